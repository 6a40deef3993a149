package api

import (
	"time"

	"github.com/dotcelery/dotcelery/internal/domain"
)

// Task DTOs

// RevokeRequest is the body of POST /api/v1/tasks/{id}/revoke.
type RevokeRequest struct {
	Terminate bool          `json:"terminate,omitempty"`
	Signal    string        `json:"signal,omitempty"`
	Expiry    time.Duration `json:"expiry,omitempty"`
}

// TaskResultResponse is GET /api/v1/tasks/{id}'s body. It is the domain
// result as-is; TaskResult already defines its own wire shape.
type TaskResultResponse = domain.TaskResult

// Saga DTOs

// SagaStepResponse is one step of a SagaResponse.
type SagaStepResponse struct {
	ID     string           `json:"id"`
	Order  int              `json:"order"`
	Name   string           `json:"name"`
	State  domain.StepState `json:"state"`
	Error  string           `json:"error,omitempty"`
}

// SagaResponse is the representation of a saga returned by the API.
type SagaResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	State         domain.SagaState `json:"state"`
	Steps         []SagaStepResponse `json:"steps"`
	Completed     int             `json:"completed_steps"`
	Total         int             `json:"total_steps"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// SagaFromDomain converts a domain.Saga into its API representation.
func SagaFromDomain(s *domain.Saga) SagaResponse {
	completed, total := s.Progress()
	steps := make([]SagaStepResponse, len(s.Steps))
	for i, step := range s.Steps {
		steps[i] = SagaStepResponse{
			ID:    step.ID,
			Order: step.Order,
			Name:  step.Name,
			State: step.State,
			Error: step.Error,
		}
	}
	return SagaResponse{
		ID:            s.ID,
		Name:          s.Name,
		State:         s.State,
		Steps:         steps,
		Completed:     completed,
		Total:         total,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		FailureReason: s.FailureReason,
	}
}

// Queue/partition/kill-switch DTOs

// PartitionStatusResponse is GET /api/v1/queue/partitions/{key}'s body.
type PartitionStatusResponse struct {
	Key    string `json:"key"`
	Locked bool   `json:"locked"`
	Holder string `json:"holder,omitempty"`
}

// KillSwitchStatusResponse is GET /api/v1/queue/kill-switch's body.
type KillSwitchStatusResponse struct {
	State string `json:"state"`
}
