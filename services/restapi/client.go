// Package restapi is the HTTP boundary to the attendance backend.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/presensi/core"
	"github.com/trezcool/presensi/services/session"
)

const (
	headerRequestID = "X-Request-ID"
	maxBodySize     = 32 << 20
)

var errNoRefreshToken = errors.New("no refresh token")

type Client struct {
	baseURL       string
	http          *http.Client
	session       *session.Session
	logger        core.Logger
	timeout       time.Duration
	importTimeout time.Duration
	userAgent     string

	refreshMu sync.Mutex
}

type Option func(*Client)

// WithHTTPClient replaces the default transport, e.g. to talk to an httptest server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(conf core.BackendConfig, sess *session.Session, logger core.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:       conf.BaseAPIURL(),
		http:          &http.Client{},
		session:       sess,
		logger:        logger,
		timeout:       conf.Timeout,
		importTimeout: conf.ImportTimeout,
		userAgent:     "presensi",
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.importTimeout <= 0 {
		c.importTimeout = 5 * time.Minute
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Session() *session.Session {
	return c.session
}

type (
	filePart struct {
		field    string
		filename string
		data     []byte
	}

	request struct {
		op     string
		method string
		path   string
		query  url.Values
		body   interface{} // sent as JSON
		fields map[string]string
		file   *filePart // sent as multipart form when set
		long   bool      // uploads and previews get the import timeout
		noAuth bool
	}
)

// do sends req and decodes the normalized response into out (which may be nil).
// A 401 triggers exactly one token refresh and one retry.
func (c *Client) do(ctx context.Context, req request, out interface{}) error {
	reqID := uuid.New().String()

	token := ""
	if !req.noAuth {
		token = c.session.AccessToken()
	}
	status, body, err := c.send(ctx, req, token, reqID)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && !req.noAuth {
		origErr := c.statusError(req.op, status, body)
		newToken, rerr := c.refresh(ctx, token)
		if rerr != nil {
			c.warn("token refresh failed, clearing session", "op", req.op, "request_id", reqID, "error", rerr)
			if cerr := c.session.Clear(); cerr != nil {
				c.warn("clearing session", "error", cerr)
			}
			return origErr
		}
		if status, body, err = c.send(ctx, req, newToken, reqID); err != nil {
			return err
		}
	}

	if status < 200 || status > 299 {
		return c.statusError(req.op, status, body)
	}
	if err := decode(body, out); err != nil {
		return core.NewNetworkError(req.op, status, "malformed response", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request, token, reqID string) (int, []byte, error) {
	timeout := c.timeout
	if req.long {
		timeout = c.importTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := req.encode()
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s: encoding request", req.op)
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	hreq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s: building request", req.op)
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("User-Agent", c.userAgent)
	hreq.Header.Set(headerRequestID, reqID)
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		return 0, nil, transportError(req.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, transportError(req.op, err)
	}
	c.debug("backend request", "op", req.op, "method", req.method, "path", req.path,
		"status", resp.StatusCode, "request_id", reqID, "duration", time.Since(start).String())
	return resp.StatusCode, data, nil
}

func (req request) encode() (io.Reader, string, error) {
	if req.file != nil {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range req.fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
		fw, err := w.CreateFormFile(req.file.field, req.file.filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(req.file.data); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
	return nil, "", nil
}

// refresh exchanges the refresh token for a new access token.
// Concurrent 401s share one refresh: whoever comes second reuses the rotated token.
func (c *Client) refresh(ctx context.Context, staleToken string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if cur := c.session.AccessToken(); cur != "" && cur != staleToken {
		return cur, nil
	}
	refreshToken := c.session.RefreshToken()
	if refreshToken == "" {
		return "", errNoRefreshToken
	}

	var tokens tokenPair
	err := c.do(ctx, request{
		op:     "refresh token",
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   map[string]string{"refresh": refreshToken},
		noAuth: true,
	}, &tokens)
	if err != nil {
		return "", err
	}
	if tokens.Access == "" {
		return "", errors.New("refresh response without access token")
	}
	if err := c.session.Rotate(tokens.Access, tokens.Refresh); err != nil {
		return "", err
	}
	c.debug("access token refreshed")
	return tokens.Access, nil
}

func (c *Client) statusError(op string, status int, body []byte) error {
	return core.NewNetworkError(op, status, errorMessage(body), nil)
}

// transportError maps client side failures to NetworkError; deadline expiry is flagged as a timeout.
func transportError(op string, err error) error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return core.NewTimeoutError(op, err)
	}
	return core.NewNetworkError(op, 0, "", err)
}

func (c *Client) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) warn(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
