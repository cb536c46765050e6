package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRoundDone Stage = "ROUND_DONE"
	StageFork      Stage = "FORK"
	StageMerge     Stage = "MERGE"
	StageAbort     Stage = "ABORT"
	StageTaskDone  Stage = "TASK_DONE"
	StageRunDone   Stage = "RUN_DONE"
)

// Event captures one step of a crawl run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// TaskID is the emitting task; zero for run-level stages.
	TaskID int64
	// Items is the batch size for ROUND_DONE and the delegated count for FORK.
	Items int64
	// Visited is the run-wide visited count when the event was recorded.
	Visited int64
	// Outstanding is the join counter when the event was recorded.
	Outstanding int64
	// Dur is the round, task or run latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as an error string.
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
	case StageRunStart, StageRunDone, StageAbort:
	case StageRoundDone, StageFork, StageMerge, StageTaskDone:
		if e.TaskID <= 0 {
			return fmt.Errorf("%s requires a task id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Items < 0 || e.Visited < 0 || e.Outstanding < 0 {
		return errors.New("counts must be >= 0")
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
