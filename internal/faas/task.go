package faas

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is a Task's position in the state machine of §3:
// Queued -> Running -> (Completed | Failed -> Queued if attempt < max) -> DeadLetter.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "Queued"
	TaskRunning    TaskStatus = "Running"
	TaskCompleted  TaskStatus = "Completed"
	TaskFailed     TaskStatus = "Failed"
	TaskDeadLetter TaskStatus = "DeadLetter"
)

// DefaultMaxAttempts is the retry budget before a task moves to DeadLetter.
const DefaultMaxAttempts = 3

// NewTaskID mints a monotonic UUIDv7 task identifier (§3).
func NewTaskID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	return id.String(), nil
}

// TriggerInstance is the event payload or HTTP request that caused a task
// to be enqueued.
type TriggerInstance struct {
	SubscriptionID string
	Kind           TriggerKindTag
	Fields         map[string]interface{}
	RawPayload     []byte
}

// Task is a single invocation record (§3).
type Task struct {
	ID             string
	FunctionID     string
	TriggerInstance TriggerInstance

	EnqueueTime time.Time
	Deadline    time.Time

	AttemptCount int
	MaxAttempts  int
	Status       TaskStatus

	Result      []byte // JSON, max 4 MiB per §4.2
	FailureKind string
	LogTail     []byte // ring buffer tail, last 256 KiB
	Superseded  bool   // set true if a reorg invalidated the source block after completion began

	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewTask constructs a freshly Queued task.
func NewTask(functionID string, ti TriggerInstance, wallTime time.Duration) (*Task, error) {
	id, err := NewTaskID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Task{
		ID:              id,
		FunctionID:      functionID,
		TriggerInstance: ti,
		EnqueueTime:     now,
		Deadline:        now.Add(wallTime),
		AttemptCount:    0,
		MaxAttempts:     DefaultMaxAttempts,
		Status:          TaskQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// CanTransition reports whether the state machine permits from -> to. All
// transitions must be persisted before externally visible effects (§4.2).
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskQueued:
		return to == TaskRunning
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	case TaskFailed:
		return to == TaskQueued || to == TaskDeadLetter
	default:
		return false
	}
}

// NextOnFailure determines whether a Failed task re-enters Queued (attempt
// budget remains) or moves to DeadLetter.
func (t *Task) NextOnFailure() TaskStatus {
	if t.AttemptCount < t.MaxAttempts {
		return TaskQueued
	}
	return TaskDeadLetter
}
