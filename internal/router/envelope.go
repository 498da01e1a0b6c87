package router

import "encoding/json"

// InboundEnvelope is the raw shape every inbound message is first decoded
// into; type dispatches to the specific inbound variant.
type InboundEnvelope struct {
	Type      string          `json:"type"`
	Namespace string          `json:"namespace,omitempty"`
	ObjectID  string          `json:"object_id,omitempty"`
	Channel   int             `json:"channel,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	inboundClientEvent = "client_event"
	inboundGorcEvent   = "gorc_event"
)

// outboundClientEvent mirrors client_event on the wire, including the
// router's own error(reason) notifications.
type outboundClientEvent struct {
	Type      string          `json:"type"`
	Namespace string          `json:"namespace"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// NewClientEventFrame builds an outbound client_event envelope. The
// gorc_zone_entry/gorc_zone_exit/gorc_update outbound frames are built by
// the gorc package's Replication Scheduler instead, since it is the one
// that has the object state and compression decision to hand; routing only
// ever needs to speak client_event for its own error notifications.
func NewClientEventFrame(namespace, event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(outboundClientEvent{Type: inboundClientEvent, Namespace: namespace, Event: event, Data: data})
}
