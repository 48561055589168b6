package tuya

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/log"
)

const tokenPath = "/v1.0/token?grant_type=1"

// State is the token lifecycle state of a Client.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// session is the mutable auth state. The token and the nonce pair it was
// acquired with are always replaced together.
type session struct {
	state  State
	token  string
	areaID string
	callID string
	// generation increments on every successful refresh so a caller holding
	// a stale snapshot can tell its token was already replaced.
	generation uint64
}

type tokenResult struct {
	AccessToken  string `json:"access_token"`
	ExpireTime   int64  `json:"expire_time"`
	RefreshToken string `json:"refresh_token"`
	UID          string `json:"uid"`
}

// State returns the current token state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.state
}

// Authenticate acquires an access token if the client does not hold one.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.authenticated(ctx)
	return err
}

// Refresh unconditionally acquires a new access token along with a new area
// id and call id. On failure the client is left Unauthenticated.
func (c *Client) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

// authenticated returns a snapshot of an Authenticated session, acquiring a
// token first when there is none.
func (c *Client) authenticated(ctx context.Context) (session, error) {
	if sess := c.snapshot(); sess.state == Authenticated {
		return sess, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	// another caller may have authenticated while we waited
	if sess := c.snapshot(); sess.state == Authenticated {
		return sess, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return session{}, err
	}
	return c.snapshot(), nil
}

// refreshIfStale refreshes the token unless a refresh already happened after
// the token of the given generation was handed out.
func (c *Client) refreshIfStale(ctx context.Context, generation uint64) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if sess := c.snapshot(); sess.state == Authenticated && sess.generation != generation {
		log.Ctx(ctx).DebugContext(ctx, "tuya token already refreshed by another caller")
		return nil
	}
	return c.refreshLocked(ctx)
}

// refreshLocked must be called with refreshMu held.
func (c *Client) refreshLocked(ctx context.Context) error {
	next := session{
		areaID: strconv.FormatInt(c.now().UnixMilli(), 10),
		callID: c.newCallID(),
	}

	token, err := c.acquire(ctx, next)
	c.metrics.TokenRefresh(Vendor, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.session = session{generation: c.session.generation}
		return err
	}
	next.state = Authenticated
	next.token = token
	next.generation = c.session.generation + 1
	c.session = next
	return nil
}

func (c *Client) acquire(ctx context.Context, next session) (string, error) {
	env, err := c.send(ctx, http.MethodGet, tokenPath, nil, next, false)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "tuya token request failed", slog.Any("error", err))
		return "", err
	}
	if !env.Success {
		log.Ctx(ctx).ErrorContext(ctx, "tuya token rejected", slog.Int("code", env.Code), slog.String("message", env.Msg))
		return "", &cloud.AuthenticationError{Vendor: Vendor, Code: env.Code, Message: env.Msg}
	}

	var res tokenResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return "", &cloud.AuthenticationError{Vendor: Vendor, Message: "malformed token result: " + err.Error()}
	}
	if res.AccessToken == "" {
		return "", &cloud.AuthenticationError{Vendor: Vendor, Message: "empty access token"}
	}

	log.Ctx(ctx).DebugContext(ctx, "tuya token acquired",
		slog.String("uid", res.UID),
		slog.Int64("expireSeconds", res.ExpireTime),
		slog.String("areaID", next.areaID),
	)
	return res.AccessToken, nil
}

func (c *Client) snapshot() session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
