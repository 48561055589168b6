// Package fusionsolar is a client for the Huawei FusionSolar (SmartPVMS)
// northbound interface. A login exchanges the account's user name and system
// code for an XSRF token that is sent back on every later request.
package fusionsolar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/common"
	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/metrics"
)

// Vendor is the name this client reports in errors, logs and metrics.
const Vendor = "fusionsolar"

// CodeSessionExpired is the failCode returned once the XSRF token is no
// longer valid.
const CodeSessionExpired = 305

// TokenHeader carries the session token in both directions.
const TokenHeader = "XSRF-TOKEN"

const (
	loginPath  = "/thirdData/login"
	logoutPath = "/thirdData/logout"
)

// Credentials are the northbound API account of a FusionSolar installation.
type Credentials struct {
	// Domain is the host of the management system, eg eu5.fusionsolar.huawei.com.
	Domain     string
	UserName   string
	SystemCode string
}

// Client holds one logged in session. It is safe for concurrent use; logins
// are serialized per client.
type Client struct {
	client  *http.Client
	baseURL string
	creds   Credentials
	limiter *rate.Limiter
	metrics *metrics.Registry

	// loginMu serializes logins. It is always taken before mu.
	loginMu    sync.Mutex
	mu         sync.Mutex
	token      string
	generation uint64
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

// WithBaseURL overrides https://<domain>, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) error {
		if u == "" {
			return cloud.Invalid("base url", "empty")
		}
		c.baseURL = strings.TrimRight(u, "/")
		return nil
	}
}

// WithRateLimit spaces requests to at most r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) error {
		if burst < 1 {
			return cloud.Invalid("rate burst", "must be at least 1")
		}
		c.limiter = rate.NewLimiter(r, burst)
		return nil
	}
}

// WithMetrics records request and login metrics into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *Client) error {
		c.metrics = r
		return nil
	}
}

// NewClient validates the credentials and returns a client that is not yet
// logged in. The first request (or Login) establishes the session.
func NewClient(creds Credentials, opts ...Option) (*Client, error) {
	if creds.Domain == "" {
		return nil, cloud.Invalid("domain", "missing")
	}
	if strings.Contains(creds.Domain, "/") {
		return nil, cloud.Invalid("domain", fmt.Sprintf("%q must be a host name", creds.Domain))
	}
	if creds.UserName == "" {
		return nil, cloud.Invalid("user name", "missing")
	}
	if creds.SystemCode == "" {
		return nil, cloud.Invalid("system code", "missing")
	}

	c := &Client{
		client:  common.HTTPClient(common.VendorTimeout),
		baseURL: "https://" + creds.Domain,
		creds:   creds,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
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

// LoggedIn reports whether the client holds a session token.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

type envelope struct {
	Success  bool            `json:"success"`
	FailCode int             `json:"failCode"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
	Params   json.RawMessage `json:"params"`
}

type loginRequest struct {
	UserName   string `json:"userName"`
	SystemCode string `json:"systemCode"`
}

type logoutRequest struct {
	XSRFToken string `json:"xsrfToken"`
}

// Authenticate implements cloud.Session. It logs in only if the client holds
// no token.
func (c *Client) Authenticate(ctx context.Context) error {
	_, _, err := c.session(ctx)
	return err
}

// Login always performs a fresh login and replaces the session token.
func (c *Client) Login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	return c.loginLocked(ctx)
}

// Logout expires the session token on the server. The local token is dropped
// even if the server rejects the logout.
func (c *Client) Logout(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}

	env, _, err := c.send(ctx, logoutPath, logoutRequest{XSRFToken: token}, token)
	if err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	if !env.Success {
		log.Ctx(ctx).WarnContext(ctx, "fusionsolar logout rejected", slog.Int("failCode", env.FailCode), slog.String("message", env.Message))
		return &cloud.RequestError{Vendor: Vendor, Code: env.FailCode, Message: env.Message}
	}
	log.Ctx(ctx).DebugContext(ctx, "fusionsolar logout success")
	return nil
}

// session returns the current token and its generation, logging in first
// when there is none.
func (c *Client) session(ctx context.Context) (string, uint64, error) {
	if token, gen := c.snapshot(); token != "" {
		return token, gen, nil
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	// another caller may have logged in while we waited
	if token, gen := c.snapshot(); token != "" {
		return token, gen, nil
	}
	if err := c.loginLocked(ctx); err != nil {
		return "", 0, err
	}
	token, gen := c.snapshot()
	return token, gen, nil
}

// reloginIfStale logs in again unless another caller already replaced the
// token of the given generation.
func (c *Client) reloginIfStale(ctx context.Context, generation uint64) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if token, gen := c.snapshot(); token != "" && gen != generation {
		log.Ctx(ctx).DebugContext(ctx, "fusionsolar session already renewed by another caller")
		return nil
	}
	return c.loginLocked(ctx)
}

// loginLocked must be called with loginMu held.
func (c *Client) loginLocked(ctx context.Context) error {
	token, err := c.login(ctx)
	c.metrics.TokenRefresh(Vendor, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.token = ""
		return err
	}
	c.token = token
	c.generation++
	return nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	env, resp, err := c.send(ctx, loginPath, loginRequest{UserName: c.creds.UserName, SystemCode: c.creds.SystemCode}, "")
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar login request failed", slog.Any("error", err))
		return "", err
	}
	if !env.Success {
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar login rejected", slog.Int("failCode", env.FailCode), slog.String("message", env.Message))
		return "", &cloud.AuthenticationError{Vendor: Vendor, Code: env.FailCode, Message: env.Message}
	}

	token := resp.Header.Get("xsrf-token")
	if token == "" {
		// older deployments only set the cookie
		for _, cookie := range resp.Cookies() {
			if cookie.Name == TokenHeader {
				token = cookie.Value
				break
			}
		}
	}
	if token == "" {
		return "", &cloud.AuthenticationError{Vendor: Vendor, Message: "login response carried no xsrf-token"}
	}

	log.Ctx(ctx).DebugContext(ctx, "fusionsolar login success", slog.String("userName", c.creds.UserName))
	return token, nil
}

func (c *Client) snapshot() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.generation
}

// sessionExpiredError is the internal signal for CodeSessionExpired. It never
// leaves Execute.
type sessionExpiredError struct {
	message    string
	generation uint64
}

func (e *sessionExpiredError) Error() string {
	return fmt.Sprintf("session expired: %s", e.message)
}

// Execute POSTs body as JSON to path with the session token and decodes the
// envelope's data into dest (which may be nil).
//
// If the server reports the session expired, the client logs in again once
// and repeats the request. Any other failure envelope is returned as a
// *cloud.RequestError carrying the server's failCode and message.
func (c *Client) Execute(ctx context.Context, path string, body, dest any) error {
	ctx = log.WithAttrs(ctx, slog.String("path", path))
	err := c.attempt(ctx, path, body, dest)
	var expired *sessionExpiredError
	if !errors.As(err, &expired) {
		return err
	}

	log.Ctx(ctx).WarnContext(ctx, "fusionsolar session expired, logging in again")
	if err := c.reloginIfStale(ctx, expired.generation); err != nil {
		return fmt.Errorf("failed to renew expired session: %w", err)
	}

	err = c.attempt(ctx, path, body, dest)
	if errors.As(err, &expired) {
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar rejected renewed session")
		return &cloud.RequestError{Vendor: Vendor, Code: CodeSessionExpired, Message: expired.message}
	}
	return err
}

func (c *Client) attempt(ctx context.Context, path string, body, dest any) error {
	token, gen, err := c.session(ctx)
	if err != nil {
		return err
	}

	env, _, err := c.send(ctx, path, body, token)
	if err != nil {
		return err
	}

	if !env.Success {
		if env.FailCode == CodeSessionExpired {
			return &sessionExpiredError{message: env.Message, generation: gen}
		}
		log.Ctx(ctx).ErrorContext(ctx, "fusionsolar api error", slog.Int("failCode", env.FailCode), slog.String("message", env.Message))
		return &cloud.RequestError{Vendor: Vendor, Code: env.FailCode, Message: env.Message}
	}

	if dest != nil {
		if err := json.Unmarshal(env.Data, dest); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode fusionsolar data", slog.Any("error", err))
			return fmt.Errorf("failed to decode fusionsolar data: %w", err)
		}
	} else {
		log.Ctx(ctx).DebugContext(ctx, "fusionsolar request success (no destination)")
	}
	return nil
}

// send POSTs one JSON request. An empty token sends no token header.
func (c *Client) send(ctx context.Context, path string, body any, token string) (envelope, *http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return envelope{}, nil, fmt.Errorf("failed to encode %s body: %w", path, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return envelope{}, nil, fmt.Errorf("fusionsolar rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return envelope{}, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(Vendor, metrics.ResultError, time.Since(start))
		return envelope{}, nil, fmt.Errorf("fusionsolar POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveRequest(Vendor, metrics.ResultError, time.Since(start))
		return envelope{}, nil, err
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		c.metrics.ObserveRequest(Vendor, metrics.ResultError, time.Since(start))
		if resp.StatusCode != http.StatusOK {
			return envelope{}, nil, &cloud.RequestError{Vendor: Vendor, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode fusionsolar response", slog.Any("error", err), slog.String("body", string(b)))
		return envelope{}, nil, fmt.Errorf("failed to decode fusionsolar response: %w", err)
	}

	switch {
	case env.Success:
		c.metrics.ObserveRequest(Vendor, metrics.ResultSuccess, time.Since(start))
	case env.FailCode == CodeSessionExpired:
		c.metrics.ObserveRequest(Vendor, metrics.ResultExpired, time.Since(start))
	default:
		c.metrics.ObserveRequest(Vendor, metrics.ResultError, time.Since(start))
	}
	return env, resp, nil
}
