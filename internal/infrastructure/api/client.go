package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/pkg/circuitbreaker"
	apperrors "skillhub/pkg/errors"
	"skillhub/pkg/logger"
	"skillhub/pkg/retry"
	"skillhub/pkg/tracing"
	"skillhub/pkg/utils"

	"go.uber.org/zap"
)

// Config configures the REST client.
type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	Retry          retry.Config
	Breaker        circuitbreaker.Config
}

// Client talks to the skill exchange REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      retry.Config
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logger.ContextLogger
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

type historyResponse struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message,omitempty"`
	Messages []domain.MessagePayload `json:"messages"`
}

// ContactQuery is the contact form body accepted by /contact/sendquery.
type ContactQuery struct {
	FirstName             string `json:"firstName"`
	LastName              string `json:"lastName"`
	Email                 string `json:"email"`
	Message               string `json:"message"`
	AgreedToPrivacyPolicy bool   `json:"agreedToPrivacyPolicy"`
}

type queryResponse struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

type usersResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Users   []domain.User `json:"users"`
}

// NewClient creates a new REST client
func NewClient(cfg Config, log *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := cfg.Retry
	if rc.ShouldRetry == nil {
		rc.ShouldRetry = isRetryable
	}

	bc := cfg.Breaker
	if bc.IsFailure == nil {
		bc.IsFailure = countsAgainstAPI
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry:   rc,
		breaker: circuitbreaker.New(bc),
		logger:  logger.NewContextLogger(log),
	}
	c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		log.Warn("api circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})
	return c
}

// Available reports whether requests are currently let through to the API.
func (c *Client) Available() bool {
	return c.breaker.State() != circuitbreaker.StateOpen
}

// FetchHistory returns the stored messages of a room, oldest first.
func (c *Client) FetchHistory(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error) {
	ctx = logger.WithRoomID(ctx, string(roomID))

	var resp historyResponse
	path := "/room/" + url.PathEscape(string(roomID)) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, apperrors.NewHistoryFetchError("failed to load chat history", err)
	}
	if !resp.Success {
		return nil, apperrors.NewHistoryFetchError("failed to load chat history", errors.New(utils.FirstNonEmpty(resp.Message, "request unsuccessful")))
	}

	now := utils.Now()
	messages := make([]domain.Message, 0, len(resp.Messages))
	for _, p := range resp.Messages {
		messages = append(messages, p.ToMessage(now))
	}
	return messages, nil
}

// ListUsers returns the user directory without the excluded user.
func (c *Client) ListUsers(ctx context.Context, exclude domain.UserID) ([]domain.User, error) {
	ctx = logger.WithUserID(ctx, string(exclude))

	var resp usersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/user/getAllUser", nil, &resp); err != nil {
		return nil, apperrors.NewConnectivityError("failed to load users", err)
	}
	if !resp.Success {
		return nil, apperrors.NewConnectivityError("failed to load users", errors.New(utils.FirstNonEmpty(resp.Message, "request unsuccessful")))
	}

	users := make([]domain.User, 0, len(resp.Users))
	for _, u := range resp.Users {
		if u.ID == exclude {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// SendQuery posts a contact form query. It returns the server's confirmation
// text when one is given.
func (c *Client) SendQuery(ctx context.Context, query ContactQuery) (string, error) {
	var resp queryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/contact/sendquery", query, &resp); err != nil {
		return "", apperrors.NewConnectivityError("failed to send query", err)
	}
	if resp.Success != nil && !*resp.Success {
		return "", apperrors.NewConnectivityError("failed to send query", errors.New(utils.FirstNonEmpty(resp.Message, "request unsuccessful")))
	}

	c.logger.LogInfo(ctx, "contact query sent", zap.String("email", utils.MaskSensitive(query.Email, 3)))
	return resp.Message, nil
}

// doJSON runs one API call through the breaker and the retry loop. in is
// encoded as the request body when non-nil. out is left untouched when the
// response body is empty.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	endpoint := c.baseURL + path
	start := utils.Now()

	ctx, span := tracing.TraceHTTPRequest(ctx, method, endpoint)
	defer span.End()
	defer tracing.MeasureDuration(ctx, start)

	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logger.WithTraceID(ctx, sc.TraceID().String())
	}
	requestID := utils.GenerateRequestID()
	ctx = logger.WithRequestID(ctx, requestID)

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	body, err := circuitbreaker.Do(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return retry.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			return c.send(ctx, method, endpoint, requestID, payload)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.LogError(ctx, err, "api request failed", zap.String("method", method), zap.String("url", endpoint))
		return err
	}
	c.logger.LogDebug(ctx, "api response", zap.String("url", endpoint), zap.Int("bytes", len(body)))

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint, requestID string, payload []byte) ([]byte, error) {
	start := utils.Now()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.LogWarn(ctx, "request failed", zap.String("url", endpoint), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.LogRequest(ctx, req.Method, endpoint, resp.StatusCode, utils.Since(start).Milliseconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, retry.Permanent(statusErr)
	}
	return body, nil
}

// errorMessage extracts {"message": ...} from an error body, falling back to the raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := utils.FirstNonEmpty(payload.Message, payload.Error); msg != "" {
			return msg
		}
	}
	return utils.TruncateString(strings.TrimSpace(string(body)), 200)
}

// countsAgainstAPI ignores client errors: the API answered, the request was wrong.
func countsAgainstAPI(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return isRetryable(err)
}

func isRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
