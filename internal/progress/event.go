// Package progress defines the event structures emitted by the annotation workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageLookupDone Stage = "LOOKUP_DONE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Final reports whether the stage ends a run.
func (s Stage) Final() bool {
	return s == StageRunDone || s == StageRunError
}

// Event captures a single component of annotation progress.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Identifier is the looked-up protein identifier.
	Identifier string
	// Chunk is the index of the chunk the lookup belonged to.
	Chunk int
	// Status is the lookup outcome for LOOKUP_DONE events.
	Status annotation.Status
	// Total is the number of rows in the run, set on RUN_START.
	Total int
	// Bytes carries the response size of the fetch.
	Bytes int64
	// Dur captures lookup latency or total run time.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.Total < 0 {
			return errors.New("run start requires total >= 0")
		}
	case StageRunDone, StageRunError:
	case StageLookupDone:
		if e.Status == annotation.StatusPending {
			return errors.New("lookup done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
