package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// The wire form is self-describing JSON: envelope metadata plus an
// explicit event type tag and schema version next to the payload.
// Decoding an unknown type or version fails with a fatal error so the
// consumer routes the record to the dead-letter topic instead of
// silently ignoring it.

// CurrentSchemaVersion is the version written for every event type
const CurrentSchemaVersion = 1

type wireEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id"`
	SourceService string          `json:"source_service"`
	Payload       json.RawMessage `json:"payload"`
}

// payloadCodec decodes one event type's payload for a schema version
type payloadCodec func(version int, raw json.RawMessage) (EventPayload, error)

func decodeAs[T EventPayload](version int, raw json.RawMessage) (EventPayload, error) {
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnknownEventSchema, version)
	}
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", p.EventType(), err)
	}
	return p, nil
}

var payloadCodecs = map[string]payloadCodec{
	EventTypeOrderCreated:     decodeAs[OrderCreated],
	EventTypeOrderFailed:      decodeAs[OrderFailed],
	EventTypeOrderCancelled:   decodeAs[OrderCancelled],
	EventTypeStockReserved:    decodeAs[StockReserved],
	EventTypeStockReleased:    decodeAs[StockReleased],
	EventTypeStockDeducted:    decodeAs[StockDeducted],
	EventTypePaymentCompleted: decodeAs[PaymentCompleted],
	EventTypePaymentFailed:    decodeAs[PaymentFailed],
	EventTypeLowStockAlert:    decodeAs[LowStockAlert],
}

// EncodeEvent serializes an envelope to its wire form
func EncodeEvent(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", e.EventType, err)
	}

	return json.Marshal(wireEvent{
		EventID:       e.EventID.String(),
		EventType:     e.EventType,
		SchemaVersion: CurrentSchemaVersion,
		AggregateID:   e.AggregateID,
		AggregateType: string(e.AggregateType),
		OccurredAt:    e.OccurredAt,
		Version:       e.Version,
		CorrelationID: e.CorrelationID,
		SourceService: e.SourceService,
		Payload:       payload,
	})
}

// DecodeEvent parses a wire record back into an envelope. Unknown
// event types and schema versions are fatal.
func DecodeEvent(data []byte) (*Envelope, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("malformed event record: %w", err)
	}

	codec, ok := payloadCodecs[w.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, w.EventType)
	}

	payload, err := codec(w.SchemaVersion, w.Payload)
	if err != nil {
		return nil, err
	}

	eventID, err := ParseEventID(w.EventID)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		EventID:       eventID,
		EventType:     w.EventType,
		AggregateID:   w.AggregateID,
		AggregateType: AggregateType(w.AggregateType),
		OccurredAt:    w.OccurredAt,
		Version:       w.Version,
		CorrelationID: w.CorrelationID,
		SourceService: w.SourceService,
		Payload:       payload,
	}, nil
}
