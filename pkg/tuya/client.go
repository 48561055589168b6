// Package tuya is a client for the Tuya IoT cloud OpenAPI. Every request is
// signed with HMAC-SHA256 over a canonical string, and the access token is
// refreshed transparently the first time the platform reports it invalid.
package tuya

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/common"
	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/metrics"
)

// Vendor is the name this client reports in errors, logs and metrics.
const Vendor = "tuya"

// CodeTokenInvalid is the error code the platform returns when the access
// token is invalid or expired. It is the only code that triggers a refresh.
const CodeTokenInvalid = 1010

// Credentials are the project credentials from the Tuya IoT console.
type Credentials struct {
	Region       string
	ClientID     string
	ClientSecret string
}

// Client holds one authenticated session against the Tuya OpenAPI. It is safe
// for concurrent use; token refreshes are serialized per client.
type Client struct {
	client    *http.Client
	baseURL   string
	signer    Signer
	now       func() time.Time
	newCallID func() string
	metrics   *metrics.Registry

	// refreshMu serializes token acquisition. It is always taken before mu.
	refreshMu sync.Mutex
	mu        sync.Mutex
	session   session
}

var _ cloud.Session = (*Client)(nil)

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return cloud.Invalid("http client", "nil")
		}
		c.client = hc
		return nil
	}
}

// WithBaseURL overrides the region endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) error {
		if u == "" {
			return cloud.Invalid("base url", "empty")
		}
		c.baseURL = u
		return nil
	}
}

// WithClock sets the time source used for request timestamps and area ids.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		c.now = now
		return nil
	}
}

// WithCallIDGenerator sets the generator used for the call id nonce.
func WithCallIDGenerator(gen func() string) Option {
	return func(c *Client) error {
		c.newCallID = gen
		return nil
	}
}

// WithMetrics records request and token metrics into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *Client) error {
		c.metrics = r
		return nil
	}
}

// NewClient validates the credentials and returns an unauthenticated client.
// No network call is made; the first request (or Authenticate) acquires the
// access token.
func NewClient(creds Credentials, opts ...Option) (*Client, error) {
	baseURL, err := BaseURL(creds.Region)
	if err != nil {
		return nil, err
	}
	if creds.ClientID == "" {
		return nil, cloud.Invalid("client id", "missing")
	}
	if creds.ClientSecret == "" {
		return nil, cloud.Invalid("client secret", "missing")
	}

	c := &Client{
		client:    common.HTTPClient(common.VendorTimeout),
		baseURL:   baseURL,
		signer:    Signer{ClientID: creds.ClientID, Secret: creds.ClientSecret},
		now:       time.Now,
		newCallID: uuid.NewString,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Vendor implements cloud.Session.
func (c *Client) Vendor() string {
	return Vendor
}

// BaseURL returns the endpoint requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
	TID     string          `json:"tid"`
}

// tokenExpiredError is the internal signal for CodeTokenInvalid. It never
// leaves Execute.
type tokenExpiredError struct {
	message    string
	generation uint64
}

func (e *tokenExpiredError) Error() string {
	return fmt.Sprintf("access token expired: %s", e.message)
}

// Execute sends one signed business API request and decodes the envelope's
// result into dest (which may be nil). body is JSON encoded unless it is
// already a []byte or json.RawMessage; a nil body sends no content.
//
// If the platform reports the token invalid, the token is refreshed once and
// the whole request is rebuilt and sent again. A second rejection is returned
// as a *cloud.RequestError. Any other failure envelope is returned as a
// *cloud.RequestError without touching the token.
func (c *Client) Execute(ctx context.Context, method, path string, body, dest any) error {
	ctx = log.WithAttrs(ctx, slog.String("method", method), slog.String("path", path))
	raw, err := encodeBody(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s body: %w", path, err)
	}

	err = c.attempt(ctx, method, path, raw, dest)
	var expired *tokenExpiredError
	if !errors.As(err, &expired) {
		return err
	}

	log.Ctx(ctx).WarnContext(ctx, "tuya access token expired, refreshing", slog.String("message", expired.message))
	if err := c.refreshIfStale(ctx, expired.generation); err != nil {
		return fmt.Errorf("failed to refresh expired token: %w", err)
	}

	err = c.attempt(ctx, method, path, raw, dest)
	if errors.As(err, &expired) {
		log.Ctx(ctx).ErrorContext(ctx, "tuya rejected refreshed token")
		return &cloud.RequestError{Vendor: Vendor, Code: CodeTokenInvalid, Message: expired.message}
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, path string, raw []byte, dest any) error {
	sess, err := c.authenticated(ctx)
	if err != nil {
		return err
	}

	env, err := c.send(ctx, method, path, raw, sess, true)
	if err != nil {
		return err
	}

	if !env.Success {
		if env.Code == CodeTokenInvalid {
			return &tokenExpiredError{message: env.Msg, generation: sess.generation}
		}
		log.Ctx(ctx).ErrorContext(ctx, "tuya api error", slog.Int("code", env.Code), slog.String("message", env.Msg))
		return &cloud.RequestError{Vendor: Vendor, Code: env.Code, Message: env.Msg}
	}

	if dest != nil {
		if err := json.Unmarshal(env.Result, dest); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode tuya result", slog.Any("error", err))
			return fmt.Errorf("failed to decode tuya result: %w", err)
		}
	} else {
		log.Ctx(ctx).DebugContext(ctx, "tuya request success (no destination)")
	}
	return nil
}

// send builds the signed request for one attempt and decodes the response
// envelope. usingToken selects the business signature and adds the
// access_token header; token acquisition calls pass false.
func (c *Client) send(ctx context.Context, method, path string, raw []byte, sess session, usingToken bool) (envelope, error) {
	t := strconv.FormatInt(c.now().UnixMilli(), 10)
	stringToSign := StringToSign(method, raw, map[string]string{
		"area_id": sess.areaID,
		"call_id": sess.callID,
	}, path)

	var sign string
	if usingToken {
		sign = c.signer.SignWithToken(sess.token, t, stringToSign)
	} else {
		sign = c.signer.Sign(t, stringToSign)
	}

	var reqBody io.Reader
	if raw != nil {
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return envelope{}, err
	}

	// the platform documents these names in lower case so they are set
	// verbatim rather than canonicalized
	req.Header["client_id"] = []string{c.signer.ClientID}
	req.Header["secret"] = []string{c.signer.Secret}
	req.Header["sign"] = []string{sign}
	req.Header["t"] = []string{t}
	req.Header["sign_method"] = []string{SignMethod}
	req.Header["Signature-Headers"] = []string{"area_id:call_id"}
	req.Header["area_id"] = []string{sess.areaID}
	req.Header["call_id"] = []string{sess.callID}
	if usingToken {
		req.Header["access_token"] = []string{sess.token}
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(Vendor, metrics.ResultError, time.Since(start))
		return envelope{}, fmt.Errorf("tuya %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveRequest(Vendor, metrics.ResultError, time.Since(start))
		return envelope{}, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.metrics.ObserveRequest(Vendor, metrics.ResultError, time.Since(start))
		if resp.StatusCode != http.StatusOK {
			return envelope{}, &cloud.RequestError{Vendor: Vendor, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode tuya response", slog.Any("error", err), slog.String("body", string(body)))
		return envelope{}, fmt.Errorf("failed to decode tuya response: %w", err)
	}

	switch {
	case env.Success:
		c.metrics.ObserveRequest(Vendor, metrics.ResultSuccess, time.Since(start))
	case env.Code == CodeTokenInvalid:
		c.metrics.ObserveRequest(Vendor, metrics.ResultExpired, time.Since(start))
	default:
		c.metrics.ObserveRequest(Vendor, metrics.ResultError, time.Since(start))
	}
	return env, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}
