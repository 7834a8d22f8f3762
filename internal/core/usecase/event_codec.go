package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

var ErrUnsupportedSchemaVersion = errors.New("unsupported event schema version")

// Upcaster lifts the payload of one event type by exactly one schema
// version, from From to From+1.
type Upcaster struct {
	EventType string
	From      int
	Upcast    func(payload json.RawMessage) (json.RawMessage, error)
}

type upcastKey struct {
	eventType string
	from      int
}

// EventCodec brings stored envelopes up to CurrentEventSchemaVersion before
// they are replayed or exported.
type EventCodec struct {
	upcasters map[upcastKey]Upcaster
}

func NewEventCodec(upcasters ...Upcaster) *EventCodec {
	m := make(map[upcastKey]Upcaster, len(upcasters))
	for _, up := range upcasters {
		m[upcastKey{up.EventType, up.From}] = up
	}
	return &EventCodec{upcasters: m}
}

// Normalize upcasts envelope step by step. Event types without registered
// upcasters keep their payload; only the version number moves. Envelopes
// from a newer schema than this build knows are rejected.
func (c *EventCodec) Normalize(envelope domain.EventEnvelope) (domain.EventEnvelope, error) {
	if envelope.SchemaVersion > domain.CurrentEventSchemaVersion || envelope.SchemaVersion < 0 {
		return domain.EventEnvelope{}, fmt.Errorf("%w: %d", ErrUnsupportedSchemaVersion, envelope.SchemaVersion)
	}
	payload := bytes.TrimSpace(envelope.Payload)
	if len(payload) == 0 || payload[0] != '{' {
		return domain.EventEnvelope{}, fmt.Errorf("event %s: payload is not a json object", envelope.EventID)
	}

	for v := envelope.SchemaVersion; v < domain.CurrentEventSchemaVersion; v++ {
		up, ok := c.upcasters[upcastKey{envelope.EventType, v}]
		if !ok {
			continue
		}
		next, err := up.Upcast(payload)
		if err != nil {
			return domain.EventEnvelope{}, fmt.Errorf("upcast %s v%d: %w", envelope.EventType, v, err)
		}
		payload = next
	}

	envelope.SchemaVersion = domain.CurrentEventSchemaVersion
	envelope.Payload = json.RawMessage(payload)
	return envelope, nil
}
