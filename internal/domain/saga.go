package domain

import "time"

// SagaState is the lifecycle state of a saga record.
type SagaState string

const (
	SagaCreated             SagaState = "CREATED"
	SagaExecuting           SagaState = "EXECUTING"
	SagaCompleted           SagaState = "COMPLETED"
	SagaCompensating        SagaState = "COMPENSATING"
	SagaCompensated         SagaState = "COMPENSATED"
	SagaFailed              SagaState = "FAILED"
	SagaCompensationFailed  SagaState = "COMPENSATION_FAILED"
	SagaCancelled           SagaState = "CANCELLED"
)

// IsTerminal reports whether the saga will not transition further.
func (s SagaState) IsTerminal() bool {
	switch s {
	case SagaCompleted, SagaCompensated, SagaFailed, SagaCompensationFailed, SagaCancelled:
		return true
	default:
		return false
	}
}

// StepState is the lifecycle state of one saga step.
type StepState string

const (
	StepPending             StepState = "PENDING"
	StepExecuting           StepState = "EXECUTING"
	StepCompleted           StepState = "COMPLETED"
	StepFailed              StepState = "FAILED"
	StepCompensating        StepState = "COMPENSATING"
	StepCompensated         StepState = "COMPENSATED"
	StepCompensationFailed  StepState = "COMPENSATION_FAILED"
)

// Signature names a registered task and the opaque, already-serialized
// input it should be invoked with — the saga's view of "what to run".
type Signature struct {
	TaskName   string `json:"task_name"`
	Args       []byte `json:"args"`
	Queue      string `json:"queue,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// SagaStep is one ordered step of a Saga. Compensation runs over completed
// steps in strictly descending Order.
type SagaStep struct {
	ID               string     `json:"id"`
	Order            int        `json:"order"`
	Name             string     `json:"name"`
	ExecuteTask      Signature  `json:"execute_task"`
	CompensateTask   *Signature `json:"compensate_task,omitempty"`
	ExecuteTaskID    string     `json:"execute_task_id,omitempty"`
	CompensateTaskID string     `json:"compensate_task_id,omitempty"`
	State            StepState  `json:"state"`
	Result           []byte     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// HasCompensation reports whether this step declares a reverse-effect task.
func (s *SagaStep) HasCompensation() bool {
	return s.CompensateTask != nil
}

// Saga is an orchestrated, compensatable sequence of tasks.
type Saga struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	State            SagaState  `json:"state"`
	Steps            []SagaStep `json:"steps"`
	CurrentStepIndex int        `json:"current_step_index"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CorrelationID    string     `json:"correlation_id,omitempty"`
}

// Progress returns completed/total step counts.
func (s *Saga) Progress() (completed, total int) {
	total = len(s.Steps)
	for i := range s.Steps {
		if s.Steps[i].State == StepCompleted || s.Steps[i].State == StepCompensated {
			completed++
		}
	}
	return completed, total
}

// StepByID returns a pointer into s.Steps matching id, or nil.
func (s *Saga) StepByID(id string) *SagaStep {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}

// CurrentStep returns the step at CurrentStepIndex, or nil if past the end.
func (s *Saga) CurrentStep() *SagaStep {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Steps) {
		return nil
	}
	return &s.Steps[s.CurrentStepIndex]
}

// CompletedStepsDescending returns steps in state Completed that declare a
// compensation task, ordered strictly descending by Order — the order
// compensation must run in.
func (s *Saga) CompletedStepsDescending() []*SagaStep {
	var out []*SagaStep
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.State == StepCompleted && step.HasCompensation() {
			out = append(out, step)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Order > out[i].Order {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
