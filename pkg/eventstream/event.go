package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/switchboard/pkg/storage"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeInteractionCreated is emitted after a record is first written.
	EventTypeInteractionCreated = "switchboard.interaction.created"

	// EventTypeInteractionCompleted is emitted after the terminal update.
	EventTypeInteractionCompleted = "switchboard.interaction.completed"
)

// InteractionEvent is a transport-neutral event payload for an interaction
// record lifecycle change.
type InteractionEvent struct {
	SchemaVersion int                       `json:"schema_version"`
	EventType     string                    `json:"event_type"`
	EventID       string                    `json:"event_id"`
	EmittedAt     time.Time                 `json:"emitted_at"`
	Interaction   storage.InteractionRecord `json:"interaction"`
}

// NewInteractionEvent snapshots rec into a new event of the given type.
func NewInteractionEvent(eventType string, rec *storage.InteractionRecord, now time.Time) *InteractionEvent {
	return &InteractionEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     now.UTC(),
		Interaction:   *rec,
	}
}
