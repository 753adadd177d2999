package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is the client-wide timeout shared by all HTTP operations.
const DefaultHTTPTimeout = 10 * time.Second

// maxResponseSize bounds the size of a response body read by the client.
const maxResponseSize = 4 << 20

// APIError is the error body returned by the backend for non-2xx responses.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Message)
}

// Unwrap maps the status class to a sentinel error.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return ErrValidation
	case e.Status >= 500:
		return ErrNetwork
	}
	return nil
}

// HTTPClient is the request/response client of the chat API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

type HTTPClientOption func(*HTTPClient)

func WithHTTPTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithToken(token string) HTTPClientOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

func WithHTTPLogger(l *slog.Logger) HTTPClientOption {
	return func(c *HTTPClient) {
		c.logger = l
	}
}

// WithRoundTripper replaces the transport of the underlying http.Client.
func WithRoundTripper(rt http.RoundTripper) HTTPClientOption {
	return func(c *HTTPClient) {
		c.client.Transport = rt
	}
}

func NewHTTPClient(baseURL string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchRoom returns the chat room of the project.
// It fails with ErrNotFound if the project has no room.
func (c *HTTPClient) FetchRoom(ctx context.Context, projectID string) (*Room, error) {
	body, err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/chat-room", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch room of project %s: %w", projectID, err)
	}
	room, err := NormalizeRoom(body)
	if err != nil {
		return nil, fmt.Errorf("fetch room of project %s: %w", projectID, err)
	}
	if room.ProjectID == "" {
		room.ProjectID = projectID
	}
	return &room, nil
}

// FetchMessages returns a page of the room's history in ascending id order.
func (c *HTTPClient) FetchMessages(ctx context.Context, roomID string, page PageParams) ([]Message, error) {
	q := url.Values{}
	if page.Before > 0 {
		q.Set("before", strconv.FormatInt(page.Before, 10))
	}
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/chat-rooms/"+url.PathEscape(roomID)+"/messages", q, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch messages of room %s: %w", roomID, err)
	}
	messages, err := NormalizeMessages(body)
	if err != nil {
		return nil, fmt.Errorf("fetch messages of room %s: %w", roomID, err)
	}
	for i := range messages {
		if messages[i].RoomID == "" {
			messages[i].RoomID = roomID
		}
	}
	return sortedUnique(messages), nil
}

// SendMessage persists the message and returns the stored record.
// A blank body fails with ErrValidation without a network call.
func (c *HTTPClient) SendMessage(ctx context.Context, msg OutgoingMessage) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, "/chat-rooms/"+url.PathEscape(msg.RoomID)+"/messages", nil, msg)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	m, err := NormalizeMessage(body)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if m.RoomID == "" {
		m.RoomID = msg.RoomID
	}
	return &m, nil
}

// UpdateReadCursor advances the user's read cursor in the room.
func (c *HTTPClient) UpdateReadCursor(ctx context.Context, roomID, userID string, messageID int64) error {
	payload := ReadCursor{RoomID: roomID, UserID: userID, LastReadMessageID: messageID}
	if _, err := c.do(ctx, http.MethodPut, "/chat-rooms/"+url.PathEscape(roomID)+"/read-cursor", nil, payload); err != nil {
		return fmt.Errorf("update read cursor: %w", err)
	}
	return nil
}

// do performs the request and returns the response body of a 2xx response.
// Transport failures and timeouts are reported as ErrNetwork, non-2xx
// responses as *APIError.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	c.logger.Debug(fmt.Sprintf("%s %s: %d", method, path, res.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{Status: res.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.Status = res.StatusCode
		return nil, apiErr
	}
	return body, nil
}

// IsNotFound reports whether err is a missing room.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
