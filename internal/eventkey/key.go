// Package eventkey implements StructuredEventKey: the tagged-variant routing
// key the event bus hashes on. Keys are built only through the constructors
// below — no string parsing is used for routing.
package eventkey

import (
	"hash/fnv"
	"strconv"
)

// Kind discriminates the StructuredEventKey variant.
type Kind uint8

const (
	KindCore Kind = iota
	KindClient
	KindPlugin
	KindGorcInstance
	KindGorcClient
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindCore:
		return "Core"
	case KindClient:
		return "Client"
	case KindPlugin:
		return "Plugin"
	case KindGorcInstance:
		return "GorcInstance"
	case KindGorcClient:
		return "GorcClient"
	case KindCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Key is the StructuredEventKey. Only the fields relevant to Kind are
// populated; equality and hashing consider the full tuple so two keys of
// different kinds are never equal even if their string fields coincide.
type Key struct {
	Kind         Kind
	Namespace    string   // Client
	PluginName   string   // Plugin
	ObjectType   string   // GorcInstance, GorcClient
	Channel      int      // GorcInstance, GorcClient (0..=3)
	EventName    string   // Core, Client, Plugin, GorcInstance, GorcClient
	CustomFields []string // Custom
}

// Core builds a server-lifecycle key.
func Core(eventName string) Key {
	return Key{Kind: KindCore, EventName: eventName}
}

// Client builds a key for traffic originating from a connected client.
func Client(namespace, eventName string) Key {
	return Key{Kind: KindClient, Namespace: namespace, EventName: eventName}
}

// Plugin builds an inter-plugin key.
func Plugin(pluginName, eventName string) Key {
	return Key{Kind: KindPlugin, PluginName: pluginName, EventName: eventName}
}

// GorcInstance builds a server-authoritative object update key.
func GorcInstance(objectType string, channel int, eventName string) Key {
	return Key{Kind: KindGorcInstance, ObjectType: objectType, Channel: channel, EventName: eventName}
}

// GorcClient builds a key for a client request targeting a specific object
// instance's channel.
func GorcClient(objectType string, channel int, eventName string) Key {
	return Key{Kind: KindGorcClient, ObjectType: objectType, Channel: channel, EventName: eventName}
}

// Custom builds a key from an ordered sequence of string fields.
func Custom(fields ...string) Key {
	cp := make([]string, len(fields))
	copy(cp, fields)
	return Key{Kind: KindCustom, CustomFields: cp}
}

// Equal reports structural equality over variant + field tuple.
func (k Key) Equal(other Key) bool {
	if k.Kind != other.Kind {
		return false
	}
	switch k.Kind {
	case KindCore:
		return k.EventName == other.EventName
	case KindClient:
		return k.Namespace == other.Namespace && k.EventName == other.EventName
	case KindPlugin:
		return k.PluginName == other.PluginName && k.EventName == other.EventName
	case KindGorcInstance, KindGorcClient:
		return k.ObjectType == other.ObjectType && k.Channel == other.Channel && k.EventName == other.EventName
	case KindCustom:
		if len(k.CustomFields) != len(other.CustomFields) {
			return false
		}
		for i := range k.CustomFields {
			if k.CustomFields[i] != other.CustomFields[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Hash returns an FNV-1a hash over the variant discriminator and field
// tuple, used by the event bus to pick a dispatch-table shard in O(1).
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	writeStr := func(s string) {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(s))
	}
	writeStr(k.Kind.String())
	switch k.Kind {
	case KindCore:
		writeStr(k.EventName)
	case KindClient:
		writeStr(k.Namespace)
		writeStr(k.EventName)
	case KindPlugin:
		writeStr(k.PluginName)
		writeStr(k.EventName)
	case KindGorcInstance, KindGorcClient:
		writeStr(k.ObjectType)
		writeStr(strconv.Itoa(k.Channel))
		writeStr(k.EventName)
	case KindCustom:
		for _, f := range k.CustomFields {
			writeStr(f)
		}
	}
	return h.Sum64()
}

// Namespace1 returns the first-level tag used by NamespaceFilter propagators
// ("Core", "Client", "Plugin", "GorcInstance", "GorcClient", "Custom").
func (k Key) Namespace1() string {
	return k.Kind.String()
}
