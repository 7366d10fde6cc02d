package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Wire protocol v1 of the admin live feed.
const (
	Version     = 1
	Subprotocol = "bouncer.feed.v1"

	TypeHello    = "hello"
	TypeHelloAck = "hello.ack"
	TypeFilter   = "filter"
	TypeEvent    = "event"
	TypeError    = "error"
)

var allowedTypes = map[string]struct{}{
	TypeHello:    {},
	TypeHelloAck: {},
	TypeFilter:   {},
	TypeEvent:    {},
	TypeError:    {},
}

// Envelope frames every message in both directions.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks the envelope header.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// FilterPayload narrows the event kinds a client receives; empty means all.
// It is accepted on hello and on filter.
type FilterPayload struct {
	Kinds []string `json:"kinds,omitempty"`
}

type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
