package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (duplicated from api/dto.go; the CLI never imports
// internal/api, so it owns its own wire shapes) ---

// TaskResultResponse is a task result as rendered by the API.
type TaskResultResponse struct {
	TaskID      string          `json:"task_id"`
	State       string          `json:"state"`
	Result      json.RawMessage `json:"result,omitempty"`
	Exception   *ExceptionView  `json:"exception,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
}

// ExceptionView is the exception embedded in a TaskResultResponse.
type ExceptionView struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SagaStepView is one step of a SagaResponse.
type SagaStepView struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Name  string `json:"name"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// SagaResponse is a saga as rendered by the API.
type SagaResponse struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	State         string         `json:"state"`
	Steps         []SagaStepView `json:"steps"`
	Completed     int            `json:"completed_steps"`
	Total         int            `json:"total_steps"`
	StartedAt     string         `json:"started_at"`
	CompletedAt   string         `json:"completed_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// PartitionStatusResponse is a partition lock's status.
type PartitionStatusResponse struct {
	Key    string `json:"key"`
	Locked bool   `json:"locked"`
	Holder string `json:"holder,omitempty"`
}

// KillSwitchStatusResponse is the worker kill switch's status.
type KillSwitchStatusResponse struct {
	State string `json:"state"`
}

// RevokeRequest is the body of a task revoke request.
type RevokeRequest struct {
	Terminate bool   `json:"terminate,omitempty"`
	Signal    string `json:"signal,omitempty"`
}

// DeadLetterEntry is one dead-lettered task.
type DeadLetterEntry struct {
	ID            string `json:"ID"`
	Reason        string `json:"Reason"`
	ExceptionType string `json:"ExceptionType"`
	Message       string `json:"Message"`
	CreatedAt     string `json:"CreatedAt"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is an HTTP client for the DotCelery operator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client against the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Tasks ---

// GetTaskResult fetches the stored result for a task id.
func (c *Client) GetTaskResult(id string) (*TaskResultResponse, error) {
	var result TaskResultResponse
	err := c.get("/api/v1/tasks/"+id, &result)
	return &result, err
}

// RevokeTask requests revocation of a task, optionally signaling a running
// handler.
func (c *Client) RevokeTask(id string, req RevokeRequest) error {
	return c.doData(http.MethodPost, "/api/v1/tasks/"+id+"/revoke", req, nil)
}

// --- Sagas ---

// GetSaga fetches the current state of a saga.
func (c *Client) GetSaga(id string) (*SagaResponse, error) {
	var s SagaResponse
	err := c.get("/api/v1/sagas/"+id, &s)
	return &s, err
}

// RetrySaga resets a saga's current step and republishes it.
func (c *Client) RetrySaga(id string) (*SagaResponse, error) {
	var s SagaResponse
	err := c.doData(http.MethodPost, "/api/v1/sagas/"+id+"/retry", nil, &s)
	return &s, err
}

// CancelSaga cancels a saga, triggering compensation if needed.
func (c *Client) CancelSaga(id string) (*SagaResponse, error) {
	var s SagaResponse
	err := c.doData(http.MethodPost, "/api/v1/sagas/"+id+"/cancel", nil, &s)
	return &s, err
}

// --- Queue ---

// GetPartitionStatus fetches a partition key's lock status.
func (c *Client) GetPartitionStatus(key string) (*PartitionStatusResponse, error) {
	var s PartitionStatusResponse
	err := c.get("/api/v1/queue/partitions/"+key, &s)
	return &s, err
}

// GetKillSwitchStatus fetches the worker kill switch's status.
func (c *Client) GetKillSwitchStatus() (*KillSwitchStatusResponse, error) {
	var s KillSwitchStatusResponse
	err := c.get("/api/v1/queue/kill-switch", &s)
	return &s, err
}

// ResetKillSwitch forces the kill switch back to Active.
func (c *Client) ResetKillSwitch() (*KillSwitchStatusResponse, error) {
	var s KillSwitchStatusResponse
	err := c.doData(http.MethodPost, "/api/v1/queue/kill-switch/reset", nil, &s)
	return &s, err
}

// ListDeadLetters fetches dead-lettered entries newest-first.
func (c *Client) ListDeadLetters(limit, offset int) ([]DeadLetterEntry, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	var entries []DeadLetterEntry
	err := c.list("/api/v1/deadletters", params, &entries)
	return entries, err
}

// --- transport ---

func (c *Client) get(path string, result any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
