package amqp

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"hearth/internal/services"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{40, 30 * time.Second}, // shift overflow still capped
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), expected: true},
		{name: "connection closed", err: errors.New("connection closed"), expected: true},
		{name: "EOF", err: errors.New("unexpected EOF"), expected: true},
		{name: "broken pipe", err: errors.New("write: broken pipe"), expected: true},
		{name: "closed network connection", err: errors.New("use of closed network connection"), expected: true},
		{name: "channel closed", err: errors.New("message channel closed"), expected: true},
		{name: "handler error", err: errors.New("invalid input"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestUnmarshalEventRejectsMissingKind(t *testing.T) {
	if _, err := unmarshalEvent([]byte(`{"entity_id":"t-1"}`)); err == nil {
		t.Error("unmarshalEvent() accepted payload without kind")
	}
	if _, err := unmarshalEvent([]byte(`not json`)); err == nil {
		t.Error("unmarshalEvent() accepted malformed payload")
	}

	ev := services.Event{Kind: services.EventInvoicePaid, EntityID: "t-1", HouseholdID: "hh-1"}
	body, err := marshalEvent(ev)
	if err != nil {
		t.Fatalf("marshalEvent() error = %v", err)
	}
	got, err := unmarshalEvent(body)
	if err != nil {
		t.Fatalf("unmarshalEvent() error = %v", err)
	}
	if got.Kind != ev.Kind || got.EntityID != ev.EntityID || got.HouseholdID != ev.HouseholdID {
		t.Errorf("round trip = %+v, want %+v", got, ev)
	}
}
