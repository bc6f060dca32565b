// Package ledger talks to the external system of record for planning and
// timesheet data. It is the only package that issues HTTP requests.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type Client struct {
	apiKey     string
	baseURL    string
	company    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(apiKey, baseURL, company string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		company: company,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Company returns the company the client is scoped to.
func (c *Client) Company() string {
	return c.company
}

// doRequest performs one API call. Transport errors and retryable statuses
// are retried with exponential backoff for GET requests only; writes are
// never replayed here so a non-idempotent operation cannot fire twice.
func (c *Client) doRequest(ctx context.Context, method, path, etag string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	op := method + " " + path
	endpoint := c.baseURL + "/companies/" + url.PathEscape(c.company) + path

	maxRetries := 0
	if method == http.MethodGet {
		maxRetries = 3
	}

	var resp *http.Response
	requestStart := time.Now()
	for attempt := 0; ; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		if etag != "" {
			req.Header.Set("If-Match", etag)
		}

		c.logger.Debug("ledger API request", "method", method, "path", path)

		resp, err = c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= maxRetries {
				c.logger.Error("API request transport error", "method", method, "path", path, "error", err, "elapsed", time.Since(requestStart))
				return nil, &Error{Kind: KindTransient, Op: op, Message: err.Error()}
			}
			c.logger.Debug("API request transport error, retrying", "method", method, "path", path, "attempt", attempt+1, "error", err)
			time.Sleep(backoff(attempt))
			continue
		}

		if (resp.StatusCode == 429 || resp.StatusCode >= 500) && attempt < maxRetries {
			resp.Body.Close()
			c.logger.Debug("API request retryable error", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt+1)
			time.Sleep(backoff(attempt))
			continue
		}
		break
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("ledger API response", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(respBody), "elapsed", time.Since(requestStart))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := classify(resp.StatusCode)
		c.logger.Error("API request failed", "method", method, "path", path, "status", resp.StatusCode, "kind", kind.String(), "response", truncate(string(respBody), 200))
		return nil, &Error{Kind: kind, Op: op, Status: resp.StatusCode, Message: apiMessage(respBody)}
	}

	return respBody, nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// apiMessage extracts the ledger's error message from a failure body so it
// can be surfaced verbatim; falls back to the raw body.
func apiMessage(body []byte) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	return truncate(string(body), 200)
}

func (c *Client) GetResources(ctx context.Context) ([]Resource, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/resources", "", nil)
	if err != nil {
		return nil, fmt.Errorf("getting resources: %w", err)
	}

	var resources []Resource
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, fmt.Errorf("parsing resources response: %w", err)
	}
	return resources, nil
}

func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/projects", "", nil)
	if err != nil {
		return nil, fmt.Errorf("getting projects: %w", err)
	}

	var projects []Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("parsing projects response: %w", err)
	}
	return projects, nil
}

func (c *Client) GetProjectTasks(ctx context.Context, projectNumber string) ([]Task, error) {
	path := "/projects/" + url.PathEscape(projectNumber) + "/tasks"
	data, err := c.doRequest(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, fmt.Errorf("getting tasks for project %s: %w", projectNumber, err)
	}

	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing tasks response: %w", err)
	}
	return tasks, nil
}

// GetPlanningLines returns all planning lines for one project inside the
// date interval, both bounds inclusive.
func (c *Client) GetPlanningLines(ctx context.Context, projectNumber string, from, to time.Time) ([]PlanningLine, error) {
	q := url.Values{}
	q.Set("project", projectNumber)
	q.Set("from", from.Format(dateLayout))
	q.Set("to", to.Format(dateLayout))

	data, err := c.doRequest(ctx, http.MethodGet, "/planningLines?"+q.Encode(), "", nil)
	if err != nil {
		return nil, fmt.Errorf("getting planning lines for project %s: %w", projectNumber, err)
	}

	var lines []PlanningLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("parsing planning lines response: %w", err)
	}
	return lines, nil
}

// GetPlanningLinesForRange narrows GetPlanningLines to one
// resource/project/task tuple. Used to obtain fresh concurrency tokens
// right before a reconciliation.
func (c *Client) GetPlanningLinesForRange(ctx context.Context, projectNumber, taskNumber, resourceNumber string, from, to time.Time) ([]PlanningLine, error) {
	q := url.Values{}
	q.Set("project", projectNumber)
	q.Set("task", taskNumber)
	q.Set("resource", resourceNumber)
	q.Set("from", from.Format(dateLayout))
	q.Set("to", to.Format(dateLayout))

	data, err := c.doRequest(ctx, http.MethodGet, "/planningLines?"+q.Encode(), "", nil)
	if err != nil {
		return nil, fmt.Errorf("getting planning lines for %s/%s/%s: %w", projectNumber, taskNumber, resourceNumber, err)
	}

	var lines []PlanningLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("parsing planning lines response: %w", err)
	}
	return lines, nil
}

func (c *Client) CreatePlanningLine(ctx context.Context, line NewPlanningLine) (*PlanningLine, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/planningLines", "", line)
	if err != nil {
		return nil, fmt.Errorf("creating planning line: %w", err)
	}

	var created PlanningLine
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("parsing planning line response: %w", err)
	}
	return &created, nil
}

// UpdatePlanningLine changes the hours of an existing line. The etag must
// come from the most recent read of the record.
func (c *Client) UpdatePlanningLine(ctx context.Context, id string, hours decimal.Decimal, etag string) (*PlanningLine, error) {
	body := map[string]decimal.Decimal{"hours": hours}
	data, err := c.doRequest(ctx, http.MethodPatch, "/planningLines/"+url.PathEscape(id), etag, body)
	if err != nil {
		return nil, fmt.Errorf("updating planning line %s: %w", id, err)
	}

	var updated PlanningLine
	if err := json.Unmarshal(data, &updated); err != nil {
		return nil, fmt.Errorf("parsing planning line response: %w", err)
	}
	return &updated, nil
}

func (c *Client) DeletePlanningLine(ctx context.Context, id string, etag string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/planningLines/"+url.PathEscape(id), etag, nil)
	if err != nil {
		return fmt.Errorf("deleting planning line %s: %w", id, err)
	}
	return nil
}

// GetTimesheetSummary returns the summary for one resource and week, or nil
// when the resource has no timesheet for that week.
func (c *Client) GetTimesheetSummary(ctx context.Context, resourceNumber string, weekStart time.Time) (*TimesheetSummary, error) {
	q := url.Values{}
	q.Set("resource", resourceNumber)
	q.Set("weekStart", weekStart.Format(dateLayout))

	data, err := c.doRequest(ctx, http.MethodGet, "/timesheetSummaries?"+q.Encode(), "", nil)
	if err != nil {
		return nil, fmt.Errorf("getting timesheet summary for %s: %w", resourceNumber, err)
	}

	var summaries []TimesheetSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, fmt.Errorf("parsing timesheet summary response: %w", err)
	}
	if len(summaries) == 0 {
		return nil, nil
	}
	return &summaries[0], nil
}
