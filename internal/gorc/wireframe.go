package gorc

import "encoding/json"

// zoneEntryFrame is the gorc_zone_entry wire frame: a full, uncompressed
// snapshot of the entered channel's state.
type zoneEntryFrame struct {
	Type       string          `json:"type"`
	ObjectID   string          `json:"object_id"`
	ObjectType string          `json:"object_type"`
	Channel    int             `json:"channel"`
	ZoneData   json.RawMessage `json:"zone_data"`
}

// zoneExitFrame is the gorc_zone_exit wire frame.
type zoneExitFrame struct {
	Type     string `json:"type"`
	ObjectID string `json:"object_id"`
	Channel  int    `json:"channel"`
}

// updateFrame is the gorc_update wire frame. Delta is marshaled as a base64
// string by encoding/json's native []byte handling.
type updateFrame struct {
	Type        string `json:"type"`
	ObjectID    string `json:"object_id"`
	Channel     int    `json:"channel"`
	Delta       []byte `json:"delta"`
	Compression string `json:"compression"`
}

// buildZoneEntryFrame renders t as a gorc_zone_entry frame, pulling a
// forced-full (uncompressed) snapshot of the entered channel.
func buildZoneEntryFrame(store *Store, t Transition) ([]byte, error) {
	inst, ok := store.Object(t.Object)
	if !ok {
		return nil, ErrUnknownObject
	}
	state, err := store.GetStateForLayer(t.Object, t.Channel, true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(zoneEntryFrame{
		Type:       "gorc_zone_entry",
		ObjectID:   t.Object.String(),
		ObjectType: inst.TypeName,
		Channel:    t.Channel,
		ZoneData:   state,
	})
}

// buildZoneExitFrame renders t as a gorc_zone_exit frame.
func buildZoneExitFrame(t Transition) ([]byte, error) {
	return json.Marshal(zoneExitFrame{
		Type:     "gorc_zone_exit",
		ObjectID: t.Object.String(),
		Channel:  t.Channel,
	})
}

// buildUpdateFrame renders a dirty-channel payload as a gorc_update frame.
func buildUpdateFrame(objectID ObjectID, channel int, delta []byte, compression Compression) ([]byte, error) {
	return json.Marshal(updateFrame{
		Type:        "gorc_update",
		ObjectID:    objectID.String(),
		Channel:     channel,
		Delta:       delta,
		Compression: compression.String(),
	})
}

// batchFrame wraps a set of already-rendered per-item frames into the single
// JSON array handed to the network layer as one frame for the tick.
func batchFrame(items []pendingItem) []byte {
	raws := make([]json.RawMessage, len(items))
	for i, it := range items {
		raws[i] = it.frame
	}
	out, err := json.Marshal(raws)
	if err != nil {
		// Every element was produced by this package's own Marshal calls
		// above, so re-marshaling a []json.RawMessage cannot fail.
		return nil
	}
	return out
}
