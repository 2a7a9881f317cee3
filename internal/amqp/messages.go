package amqp

import (
	"encoding/json"
	"fmt"

	"hearth/internal/services"
)

// marshalEvent encodes a ledger event for the wire.
func marshalEvent(ev services.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// unmarshalEvent decodes a ledger event, rejecting payloads without a kind.
func unmarshalEvent(data []byte) (services.Event, error) {
	var ev services.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return services.Event{}, err
	}
	if ev.Kind == "" {
		return services.Event{}, fmt.Errorf("event payload missing kind")
	}
	return ev, nil
}
