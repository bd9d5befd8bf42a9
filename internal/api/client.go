package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/logging"
	"github.com/rescale/shellxfer/internal/transfer"
)

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to a running `shellxfer serve`.
type Client struct {
	httpClient *http.Client
	stream     *http.Client // no timeout, for /v1/events
	baseURL    string
	token      string
}

// NewClient creates a control API client. baseURL may omit the scheme.
func NewClient(baseURL, token string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = constants.APIRetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = &retryLogger{logger: logger}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient.Timeout = constants.APIRequestTimeout

	return &Client{
		httpClient: retryClient.StandardClient(),
		stream:     &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends a request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body errorBody
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Enqueue submits a transfer and returns the queued task.
func (c *Client) Enqueue(ctx context.Context, req TransferRequest) (transfer.TaskInfo, error) {
	var info transfer.TaskInfo
	err := c.do(ctx, http.MethodPost, "/v1/transfers", req, &info)
	return info, err
}

// Cancel asks the server to cancel its active transfer.
func (c *Client) Cancel(ctx context.Context) (bool, error) {
	var resp CancelResponse
	if err := c.do(ctx, http.MethodPost, "/v1/cancel", nil, &resp); err != nil {
		return false, err
	}
	return resp.Canceled, nil
}

// Status returns queue counters and tasks.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &resp)
	return resp, err
}

// History returns up to limit finished transfers, newest first.
func (c *Client) History(ctx context.Context, limit int) (HistoryResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var resp HistoryResponse
	err := c.do(ctx, http.MethodGet, "/v1/history?"+q.Encode(), nil, &resp)
	return resp, err
}

// Health reports whether the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Events streams server events to fn until ctx is done, the server closes
// the stream, or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(events.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				ev, err := decodeEvent(events.EventType(eventType), []byte(data))
				if err == nil {
					if err := fn(ev); err != nil {
						return err
					}
				}
			}
			eventType, data = "", ""
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeEvent(t events.EventType, data []byte) (events.Event, error) {
	var ev events.Event
	switch t {
	case events.EventProgress:
		ev = &events.ProgressEvent{}
	case events.EventOutcome:
		ev = &events.OutcomeEvent{}
	case events.EventEngineState:
		ev = &events.EngineStateEvent{}
	case events.EventLog:
		ev = &events.LogEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
