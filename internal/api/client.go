package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/storage"
)

// ErrUnauthorized is returned for HTTP 401 so callers can refresh the token
// and try once more.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError carries any other non-success HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("unexpected status: %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// TokenSource supplies the bearer token. A false second value sends the
// request without an Authorization header.
type TokenSource interface {
	Token() (string, bool)
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// SendRate caps submissions per second, 0 means unlimited.
	SendRate int
	Tokens   TokenSource
	// RefreshPath defaults to /auth/refresh.
	RefreshPath string
}

type Client struct {
	http        *resty.Client
	tokens      TokenSource
	limiter     ratelimit.Limiter
	refreshPath string
	log         *logrus.Entry
}

func NewClient(opts Options) *Client {
	c := &Client{
		tokens:      opts.Tokens,
		limiter:     ratelimit.NewUnlimited(),
		refreshPath: opts.RefreshPath,
		log:         debuglog.Module("api"),
	}
	if c.refreshPath == "" {
		c.refreshPath = "/auth/refresh"
	}
	if opts.SendRate > 0 {
		c.limiter = ratelimit.New(opts.SendRate, ratelimit.WithoutSlack)
	}

	c.http = resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json").
		SetRetryCount(0).
		OnAfterResponse(c.onStatusToError)
	return c
}

// Converts HTTP status to errors
func (c *Client) onStatusToError(_ *resty.Client, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	c.log.WithField("status", resp.StatusCode()).
		WithField("url", resp.Request.URL).
		Debug("Request failed")

	if resp.StatusCode() == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	body := string(resp.Body())
	if len(body) > 256 {
		body = body[:256]
	}
	return &StatusError{Code: resp.StatusCode(), Body: body}
}

// request builds an authenticated API request.
func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			req.SetAuthToken(token)
		}
	}
	return req
}

func (c *Client) ListPolls(ctx context.Context) ([]*storage.PollRecord, error) {
	var polls []*storage.PollRecord
	if _, err := c.request(ctx).SetResult(&polls).Get("/polls"); err != nil {
		return nil, fmt.Errorf("listing polls: %w", err)
	}
	return polls, nil
}

func (c *Client) GetPoll(ctx context.Context, id int64) (*storage.PollRecord, error) {
	var poll storage.PollRecord
	_, err := c.request(ctx).
		SetResult(&poll).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Get("/polls/{id}")
	if err != nil {
		return nil, fmt.Errorf("fetching poll %d: %w", id, err)
	}
	return &poll, nil
}

// PostJSON sends body verbatim. Submissions share the rate limiter.
func (c *Client) PostJSON(ctx context.Context, path string, body any) error {
	c.limiter.Take()
	if _, err := c.request(ctx).SetHeader("Content-Type", "application/json").SetBody(body).Post(path); err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return nil
}

func (c *Client) PutJSON(ctx context.Context, path string, body any) error {
	c.limiter.Take()
	if _, err := c.request(ctx).SetHeader("Content-Type", "application/json").SetBody(body).Put(path); err != nil {
		return fmt.Errorf("PUT %s: %w", path, err)
	}
	return nil
}

// FetchThumbnail downloads an image from an absolute URL without sending
// credentials. It returns the body and its content type.
func (c *Client) FetchThumbnail(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "image/*").
		Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("fetching thumbnail: %w", err)
	}
	mime := resp.Header().Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(resp.Body())
	}
	return resp.Body(), mime, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// RefreshToken exchanges the current token for a new one.
func (c *Client) RefreshToken(ctx context.Context, token string) (string, error) {
	var out tokenResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		Post(c.refreshPath)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("refreshing token: empty token in response")
	}
	return out.Token, nil
}

// Ping reports whether the API answers at all. Any HTTP response, even an
// error status, counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.http.R().SetContext(ctx).Head("/health")
	var status *StatusError
	if err == nil || errors.Is(err, ErrUnauthorized) || errors.As(err, &status) {
		return nil
	}
	return fmt.Errorf("api unreachable: %w", err)
}
