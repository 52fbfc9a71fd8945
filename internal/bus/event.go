package bus

import "time"

// Event is a domain event published on the bus. Kind is a dotted name;
// subscribers filter on a prefix. Namespaces used by the core:
//
//	conn.       connection lifecycle (connected, disconnected, reconnecting,
//	            reconnect_failed, error, state_changed)
//	room.       inbound room traffic (message, typing)
//	message.    reconciler output (appended, updated, resolved, rolled_back,
//	            send_failed)
//	roster.     room list updates (updated)
//	health.     connectivity gate (gate_changed)
//	broadcast.  fan-out results (sent)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// E builds an event stamped with the current time.
func E(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
