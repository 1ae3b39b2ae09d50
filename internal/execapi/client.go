// Package execapi is the client of the external task execution API.
//
// Every call only performs network I/O. Failures are returned as *cerr.Error
// values whose Err wraps ErrUnavailable, ErrRejected or ErrInvalidInput.
package execapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kazz187/agentdash/internal/task"
	"github.com/kazz187/agentdash/pkg/cerr"
)

const maxResponseBytes = 1 << 20

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*Client)

// WithHTTPClient sets the client requests go through. A nil client keeps the
// default one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request, including reading the response body. It
// applies to the client given by WithHTTPClient regardless of option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// RepoName returns the last path segment of a repository URL, ignoring a
// trailing slash and a ".git" suffix.
func RepoName(repositoryURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(repositoryURL), "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return strings.TrimSuffix(trimmed, ".git")
}

// TaskDescription is the one-line summary sent for a task run, e.g.
// "ABC-001 Fix login".
func TaskDescription(t *task.Task) string {
	return strings.TrimSpace(t.Code + " " + t.Title)
}

func (c *Client) SubmitTask(ctx context.Context, t *task.Task, repositoryURL string) (*TaskSubmission, error) {
	if strings.TrimSpace(repositoryURL) == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "repository URL is required",
			fmt.Errorf("%w: empty repository URL", ErrInvalidInput))
	}
	req := submitTaskRequest{
		TaskDescription:     TaskDescription(t),
		DetailedDescription: t.Description,
		RepoURL:             repositoryURL,
		RepoName:            RepoName(repositoryURL),
	}
	var res TaskSubmission
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, &res); err != nil {
		return nil, err
	}
	if res.RemoteJobID == "" {
		return nil, rejected(http.StatusOK, "response has no task_id")
	}
	return &res, nil
}

func (c *Client) SubmitProject(ctx context.Context, description string, keyFiles []string) (*ProjectSubmission, error) {
	if len(keyFiles) == 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "key files are required",
			fmt.Errorf("%w: empty key file list", ErrInvalidInput))
	}
	req := submitProjectRequest{
		ProjectDescription: description,
		KeyFiles:           keyFiles,
	}
	var res ProjectSubmission
	if err := c.do(ctx, http.MethodPost, "/api/project-tasks", req, &res); err != nil {
		return nil, err
	}
	if res.RemoteProjectID == "" {
		return nil, rejected(http.StatusOK, "response has no project_id")
	}
	return &res, nil
}

func (c *Client) GetTaskStatus(ctx context.Context, remoteJobID string) (*TaskStatus, error) {
	var res TaskStatus
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(remoteJobID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetProjectStatus(ctx context.Context, remoteProjectID string) (*ProjectStatus, error) {
	var res ProjectStatus
	if err := c.do(ctx, http.MethodGet, "/api/project-tasks/"+url.PathEscape(remoteProjectID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBuf, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return unavailable(fmt.Errorf("read %s %s response: %w", method, path, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rejected(resp.StatusCode, strings.TrimSpace(string(respBuf)))
	}
	if err := json.Unmarshal(respBuf, out); err != nil {
		return unavailable(fmt.Errorf("decode %s %s response: %w", method, path, err))
	}
	return nil
}

func unavailable(err error) error {
	return cerr.NewError(cerr.Unavailable, "execution API is unavailable", fmt.Errorf("%w: %w", ErrUnavailable, err))
}

func rejected(status int, body string) error {
	return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("execution API rejected the request (http %d)", status),
		&RejectedError{StatusCode: status, Body: body})
}
