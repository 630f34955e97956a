package models

import (
	"encoding/json"
	"fmt"
)

// Mutation is a client-submitted optimistic write awaiting its
// authoritative echo on the change stream.
type Mutation struct {
	CorrelationID string          `json:"correlation_id,omitempty"`
	Resource      ResourceType    `json:"resource" validate:"required"`
	Op            Op              `json:"op" validate:"required"`
	Record        json.RawMessage `json:"record" validate:"required"`
}

// DecodeRecord unmarshals and validates the mutation record under the same
// rules as change-event records.
func (m *Mutation) DecodeRecord() (Entity, error) {
	if !m.Op.Valid() {
		return nil, fmt.Errorf("invalid op %q", m.Op)
	}
	return decodeRecord(m.Resource, m.Op, m.Record)
}
