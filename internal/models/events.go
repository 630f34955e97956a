package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Op is the change operation carried by an event or mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

func (o Op) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ChangeEvent is the wire envelope of the authoritative change stream.
// Seq is contiguous per channel starting at 1; transports fill it from the
// broker position when the payload omits it. CorrelationID echoes the
// client-submitted mutation that produced the change, when there was one.
type ChangeEvent struct {
	EventID       string          `json:"event_id"`
	Channel       string          `json:"channel,omitempty"`
	Resource      ResourceType    `json:"resource" validate:"required"`
	Op            Op              `json:"op" validate:"required"`
	Seq           uint64          `json:"seq"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Record        json.RawMessage `json:"record" validate:"required"`
}

// DecodeRecord unmarshals and validates the event record into its concrete
// entity type. Delete events need only the base shape; inserts and updates
// must be fully valid. Message reactions are normalized at this boundary.
func (e *ChangeEvent) DecodeRecord() (Entity, error) {
	if !e.Op.Valid() {
		return nil, fmt.Errorf("invalid op %q", e.Op)
	}
	return decodeRecord(e.Resource, e.Op, e.Record)
}

// DecodeSnapshotRecord decodes one snapshot row. Snapshot rows are full
// entity payloads, so they are validated like inserts.
func DecodeSnapshotRecord(resource ResourceType, raw json.RawMessage) (Entity, error) {
	return decodeRecord(resource, OpInsert, raw)
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	// "urls" checks every element of a []string field is an absolute URL.
	// Registered here and in the HTTP binding layer so records validate the
	// same on both paths.
	_ = v.RegisterValidation("urls", func(fl validator.FieldLevel) bool {
		slice, ok := fl.Field().Interface().([]string)
		if !ok {
			return false
		}
		for _, s := range slice {
			if err := v.Var(s, "url"); err != nil {
				return false
			}
		}
		return true
	})
	return v
}

func decodeRecord(resource ResourceType, op Op, raw json.RawMessage) (Entity, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty record for %s", resource)
	}

	var ent Entity
	switch resource {
	case ResourceTeams:
		ent = &Team{}
	case ResourceProjects:
		ent = &Project{}
	case ResourceMessages:
		ent = &Message{}
	default:
		return nil, fmt.Errorf("unknown resource type %q", resource)
	}

	if err := json.Unmarshal(raw, ent); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", resource, err)
	}

	// Tombstone writes carry only the base shape.
	if op == OpDelete {
		if err := validate.Struct(ent.Meta()); err != nil {
			return nil, fmt.Errorf("validate %s tombstone: %w", resource, err)
		}
		return ent, nil
	}

	if err := validate.Struct(ent); err != nil {
		return nil, fmt.Errorf("validate %s record: %w", resource, err)
	}
	if msg, ok := ent.(*Message); ok {
		// A standalone message may omit thread_id; it roots its own thread.
		// Replies must name their root (enforced by required_with above).
		if msg.ThreadID == "" {
			msg.ThreadID = msg.ID
		}
		msg.NormalizeReactions()
	}
	return ent, nil
}
