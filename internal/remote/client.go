// Package remote is the HTTP client for the authoritative backend.
//
// Every call returns either authoritative data or a typed failure:
// *RejectionError when the authority refused the request, *TransportError
// when it could not be reached. Callers branch on the two.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/model"
)

// Settings holds HTTP timeouts.
type Settings struct {
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	TLSTimeout     time.Duration
}

// DefaultSettings returns the timeouts used in production.
func DefaultSettings() *Settings {
	return &Settings{
		RequestTimeout: 10 * time.Second,
		ConnectTimeout: 5 * time.Second,
		TLSTimeout:     5 * time.Second,
	}
}

// Client talks to the backend REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. token is sent as a bearer
// token on every request when non-empty.
func NewClient(baseURL, token string, settings *Settings) *Client {
	if settings == nil {
		settings = DefaultSettings()
	}
	dialer := &net.Dialer{
		Timeout: settings.ConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: settings.TLSTimeout,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   settings.RequestTimeout,
		},
	}
}

// CheckInRequest is the body of a check-in call.
type CheckInRequest struct {
	ChildID     string `json:"child_id"`
	SessionID   string `json:"session_id"`
	CheckedInBy string `json:"checked_in_by"`
	Notes       string `json:"notes,omitempty"`

	// ClientRecordID is the locally minted record id, letting the authority
	// recognize a replayed offline check-in.
	ClientRecordID string `json:"client_record_id,omitempty"`
}

// CheckOutRequest is the body of a check-out call.
type CheckOutRequest struct {
	ChildID      string `json:"child_id"`
	CheckedOutBy string `json:"checked_out_by"`
	Notes        string `json:"notes,omitempty"`
}

// Result is the authoritative state after a check-in or check-out.
type Result struct {
	Record  model.CheckInRecord `json:"record"`
	Child   model.Child         `json:"child"`
	Session model.Session       `json:"session"`
}

// rejectionBody is the error payload the backend sends with 4xx responses.
type rejectionBody struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// CheckIn asks the authority to check a child into a session.
func (c *Client) CheckIn(ctx context.Context, req CheckInRequest) (Result, error) {
	return post[Result](ctx, c, "check in", "/checkins", req)
}

// CheckOut asks the authority to check a child out of its current session.
func (c *Client) CheckOut(ctx context.Context, req CheckOutRequest) (Result, error) {
	return post[Result](ctx, c, "check out", "/checkouts", req)
}

// FetchChild returns the authoritative child.
func (c *Client) FetchChild(ctx context.Context, id string) (model.Child, error) {
	return get[model.Child](ctx, c, "fetch child", "/children/"+url.PathEscape(id))
}

// FetchSession returns the authoritative session.
func (c *Client) FetchSession(ctx context.Context, id string) (model.Session, error) {
	return get[model.Session](ctx, c, "fetch session", "/sessions/"+url.PathEscape(id))
}

// FetchSessions returns every session the caller can see.
func (c *Client) FetchSessions(ctx context.Context) ([]model.Session, error) {
	sessions, err := get[[]model.Session](ctx, c, "fetch sessions", "/sessions")
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

// Register creates a child from a guardian's registration.
func (c *Client) Register(ctx context.Context, reg model.Registration) (model.Child, error) {
	return post[model.Child](ctx, c, "register child", "/children", reg)
}

func post[R any](ctx context.Context, c *Client, op, path string, args any) (R, error) {
	var empty R
	body, err := json.Marshal(args)
	if err != nil {
		return empty, fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return empty, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do[R](c, op, req)
}

func get[R any](ctx context.Context, c *Client, op, path string) (R, error) {
	var empty R
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return empty, fmt.Errorf("%s: build request: %w", op, err)
	}
	return do[R](c, op, req)
}

func do[R any](c *Client, op string, req *http.Request) (R, error) {
	var result R

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	r, err := c.httpClient.Do(req)
	if err != nil {
		return result, &TransportError{Op: op, Err: err}
	}
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return result, &TransportError{Op: op, Status: r.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if r.StatusCode != http.StatusOK && r.StatusCode != http.StatusCreated {
		return result, classifyStatus(op, r.StatusCode, data)
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return result, &TransportError{Op: op, Status: r.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	return result, nil
}

// classifyStatus turns a non-success response into a typed failure.
// Client errors are refusals. Timeouts, throttling, bad credentials and
// server errors mean the authority did not make a decision.
func classifyStatus(op string, status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized:
		return &TransportError{Op: op, Status: status, Err: ErrUnauthorized}
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &TransportError{Op: op, Status: status, Err: errors.New(msg)}
	case status >= 400:
		var rb rejectionBody
		if err := json.Unmarshal(body, &rb); err != nil || (rb.Code == "" && rb.Reason == "") {
			// The response body is the error message.
			rb = rejectionBody{Reason: strings.TrimSpace(string(body))}
		}
		if rb.Reason == "" {
			rb.Reason = http.StatusText(status)
		}
		return &RejectionError{Op: op, Status: status, Code: rb.Code, Reason: rb.Reason}
	default:
		return &TransportError{Op: op, Status: status, Err: fmt.Errorf("unexpected status")}
	}
}
