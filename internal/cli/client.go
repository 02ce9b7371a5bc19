package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tutu-network/pregen/internal/api"
	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/infra/watchdog"
)

// daemonClient talks to a running pregen daemon.
type daemonClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func newDaemonClient(baseURL string) *daemonClient {
	return &daemonClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type taskList struct {
	Tasks   []domain.Progress `json:"tasks"`
	Holding bool              `json:"holding"`
}

type recordList struct {
	Records []domain.TaskRecord `json:"records"`
}

type watchdogList struct {
	Holding   bool              `json:"holding"`
	Watchdogs []watchdog.Status `json:"watchdogs"`
}

func (c *daemonClient) StartTask(req api.TaskRequest) error {
	return c.doJSON(http.MethodPost, "/api/tasks", req, nil, http.StatusAccepted)
}

// Command sends pause, continue or cancel for world.
func (c *daemonClient) Command(world, action string) error {
	path := fmt.Sprintf("/api/tasks/%s/%s", url.PathEscape(world), action)
	return c.doJSON(http.MethodPost, path, nil, nil, http.StatusAccepted)
}

func (c *daemonClient) Tasks() (taskList, error) {
	var out taskList
	err := c.doJSON(http.MethodGet, "/api/tasks", nil, &out)
	return out, err
}

func (c *daemonClient) Task(world string) (domain.Progress, error) {
	var out domain.Progress
	err := c.doJSON(http.MethodGet, "/api/tasks/"+url.PathEscape(world), nil, &out)
	return out, err
}

func (c *daemonClient) Records() ([]domain.TaskRecord, error) {
	var out recordList
	err := c.doJSON(http.MethodGet, "/api/records", nil, &out)
	return out.Records, err
}

func (c *daemonClient) Watchdogs() (watchdogList, error) {
	var out watchdogList
	err := c.doJSON(http.MethodGet, "/api/watchdogs", nil, &out)
	return out, err
}

func (c *daemonClient) ReloadWatchdogs() error {
	return c.doJSON(http.MethodPost, "/api/watchdogs/reload", nil, nil)
}

func (c *daemonClient) doJSON(method, path string, req, out interface{}, okStatuses ...int) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s (is 'pregen serve' running?): %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	if len(okStatuses) == 0 {
		okStatuses = []int{http.StatusOK}
	}
	ok := false
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
