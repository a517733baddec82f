package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

var (
	errMissingToken    = errors.New("remote: credential token is required")
	errMissingBaseURL  = errors.New("remote: base url is required")
	errMissingSyncURL  = errors.New("remote: sync url is required")
	errMissingAccount  = errors.New("remote: account id is required")
	errMissingRecorder = errors.New("remote: rate recorder is required")
)

// Recorder receives one record per outbound API call so the scheduler can
// gate new calls against the rolling rate window.
type Recorder interface {
	Record(accountID string, at time.Time)
}

// ClientConfig describes one account's connection to the remote service.
type ClientConfig struct {
	BaseURL    string
	SyncURL    string
	Token      string
	AccountID  string
	HTTPClient *http.Client
	Recorder   Recorder
	Clock      func() time.Time
}

// Client is a stateless wrapper around the remote service's two API styles:
// the token-based incremental sync endpoint and the resource-oriented REST
// endpoint. It is the only component allowed to make network calls to the
// remote service.
type Client struct {
	baseURL    string
	syncURL    string
	token      string
	accountID  string
	httpClient *http.Client
	recorder   Recorder
	clock      func() time.Time
}

// NewClient constructs a Client after validating its configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errMissingToken
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	if strings.TrimSpace(cfg.SyncURL) == "" {
		return nil, errMissingSyncURL
	}
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, errMissingAccount
	}
	if cfg.Recorder == nil {
		return nil, errMissingRecorder
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		syncURL:    cfg.SyncURL,
		token:      cfg.Token,
		accountID:  cfg.AccountID,
		httpClient: httpClient,
		recorder:   cfg.Recorder,
		clock:      clock,
	}, nil
}

// Sync posts to the incremental endpoint. A token of "*" requests a full
// snapshot; any other value requests only changes since that token.
func (c *Client) Sync(ctx context.Context, token string, resourceTypes []string, commands []Command) (*SyncResponse, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	request := SyncRequest{
		SyncToken:     token,
		ResourceTypes: resourceTypes,
		Commands:      commands,
	}
	var response SyncResponse
	if err := c.do(ctx, http.MethodPost, c.syncURL, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// FullSync requests the entire dataset.
func (c *Client) FullSync(ctx context.Context) (*SyncResponse, error) {
	return c.Sync(ctx, FullSyncToken, nil, nil)
}

// IncrementalSync requests only changes since the provided token. It rejects
// empty tokens and the full-sync sentinel locally, before any I/O.
func (c *Client) IncrementalSync(ctx context.Context, token string) (*SyncResponse, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" || trimmed == FullSyncToken {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	return c.Sync(ctx, trimmed, nil, nil)
}

// PushCommands submits batched mutations against the provided token.
func (c *Client) PushCommands(ctx context.Context, token string, commands []Command) (*SyncResponse, error) {
	return c.Sync(ctx, token, nil, commands)
}

// --- REST helpers: tasks ---

// ListTasks returns the user's active tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask creates one task via the REST surface.
func (c *Client) CreateTask(ctx context.Context, args map[string]interface{}) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/tasks", args, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask updates the given fields of one task.
func (c *Client) UpdateTask(ctx context.Context, id string, args map[string]interface{}) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/tasks/"+id, args, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CloseTask marks one task complete.
func (c *Client) CloseTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.baseURL+"/tasks/"+id+"/close", nil, nil)
}

// ReopenTask reverts a completed task to active.
func (c *Client) ReopenTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.baseURL+"/tasks/"+id+"/reopen", nil, nil)
}

// DeleteTask removes one task. DELETE calls return no body.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/tasks/"+id, nil, nil)
}

// --- REST helpers: projects ---

// ListProjects returns the user's projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject creates one project via the REST surface.
func (c *Client) CreateProject(ctx context.Context, args map[string]interface{}) (*Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/projects", args, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// UpdateProject updates the given fields of one project.
func (c *Client) UpdateProject(ctx context.Context, id string, args map[string]interface{}) (*Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/projects/"+id, args, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject removes one project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/projects/"+id, nil, nil)
}

// --- REST helpers: labels ---

// ListLabels returns the user's labels.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	var labels []Label
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/labels", nil, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// CreateLabel creates one label via the REST surface.
func (c *Client) CreateLabel(ctx context.Context, args map[string]interface{}) (*Label, error) {
	var label Label
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/labels", args, &label); err != nil {
		return nil, err
	}
	return &label, nil
}

// UpdateLabel updates the given fields of one label.
func (c *Client) UpdateLabel(ctx context.Context, id string, args map[string]interface{}) (*Label, error) {
	var label Label
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/labels/"+id, args, &label); err != nil {
		return nil, err
	}
	return &label, nil
}

// DeleteLabel removes one label.
func (c *Client) DeleteLabel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/labels/"+id, nil, nil)
}

// --- REST helpers: sections ---

// ListSections returns the user's sections.
func (c *Client) ListSections(ctx context.Context) ([]Section, error) {
	var sections []Section
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/sections", nil, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// CreateSection creates one section via the REST surface.
func (c *Client) CreateSection(ctx context.Context, args map[string]interface{}) (*Section, error) {
	var section Section
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/sections", args, &section); err != nil {
		return nil, err
	}
	return &section, nil
}

// UpdateSection updates the given fields of one section.
func (c *Client) UpdateSection(ctx context.Context, id string, args map[string]interface{}) (*Section, error) {
	var section Section
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/sections/"+id, args, &section); err != nil {
		return nil, err
	}
	return &section, nil
}

// DeleteSection removes one section.
func (c *Client) DeleteSection(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/sections/"+id, nil, nil)
}

// --- REST helpers: comments ---

// ListComments returns the comments attached to one task.
func (c *Client) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	var comments []Comment
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/comments?task_id="+taskID, nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// CreateComment creates one comment via the REST surface.
func (c *Client) CreateComment(ctx context.Context, args map[string]interface{}) (*Comment, error) {
	var comment Comment
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/comments", args, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// UpdateComment updates the given fields of one comment.
func (c *Client) UpdateComment(ctx context.Context, id string, args map[string]interface{}) (*Comment, error) {
	var comment Comment
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/comments/"+id, args, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// DeleteComment removes one comment.
func (c *Client) DeleteComment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/comments/"+id, nil, nil)
}

// do issues one HTTP call, recording it in the rate ledger before dispatch.
func (c *Client) do(ctx context.Context, method, url string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	c.recorder.Record(c.accountID, c.clock())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return &UnavailableError{Status: 0, Body: err.Error()}
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return &AuthError{Status: response.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return &UnavailableError{Status: response.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}
