package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/resolver"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/token"
)

// Defaults for Config.
const (
	DefaultDialTimeout     = 5 * time.Second
	DefaultRateLimitWindow = time.Minute
	DefaultMaxMessageSize  = 4 * 1024 * 1024
)

// DefaultSubprotocols are offered to clients during the upgrade.
var DefaultSubprotocols = []string{"binary"}

// Resolver resolves tokens into routes.
type Resolver interface {
	Verify(raw string) (*token.Identity, error)
	ResolveIdentity(ctx context.Context, id *token.Identity) (resolver.Route, error)
}

// Provisioner ensures desktops and is told when they disappear.
type Provisioner interface {
	Ensure(ctx context.Context, key string, viewOnly bool) (target.Target, error)
	Invalidate(key string, t target.Target) bool
}

// Config holds relay configuration
type Config struct {
	Resolver    Resolver
	Provisioner Provisioner

	// Audit defaults to audit.Discard.
	Audit audit.Recorder

	// AllowedOrigins restricts browser origins. Empty or ["*"] allows all.
	AllowedOrigins []string

	// Subprotocols defaults to DefaultSubprotocols.
	Subprotocols []string

	// DialTimeout bounds the backend connect.
	DialTimeout time.Duration

	// RateLimitRequests is the max connections per subject per window (0 = unlimited)
	RateLimitRequests int

	// RateLimitWindow is the rate limit window duration
	RateLimitWindow time.Duration

	// MaxMessageSize bounds one inbound WebSocket message.
	MaxMessageSize int64

	Logger *slog.Logger
}

// Relay is the WebSocket entry point. It resolves the token carried by each
// upgrade request, ensures the desktop behind it and relays bytes.
type Relay struct {
	cfg         Config
	upgrader    websocket.Upgrader
	rateLimiter *rateLimiter
	dialer      target.Dialer
	conns       *connTable
	logger      *slog.Logger
}

// New creates a new relay instance
func New(cfg Config) (*Relay, error) {
	if cfg.Resolver == nil {
		return nil, errors.ConfigError("relay requires a resolver", nil)
	}
	if cfg.Provisioner == nil {
		return nil, errors.ConfigError("relay requires a provisioner", nil)
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Discard
	}
	if len(cfg.Subprotocols) == 0 {
		cfg.Subprotocols = DefaultSubprotocols
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Relay{
		cfg:      cfg,
		upgrader: makeUpgrader(cfg.AllowedOrigins, cfg.Subprotocols),
		dialer:   target.Dialer{Dialer: net.Dialer{Timeout: cfg.DialTimeout}},
		conns:    newConnTable(),
		logger:   logger,
	}
	if cfg.RateLimitRequests > 0 {
		r.rateLimiter = newRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	return r, nil
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins, subprotocols []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    subprotocols,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Close drops every relayed connection and releases background resources.
func (r *Relay) Close() error {
	if r.rateLimiter != nil {
		r.rateLimiter.stop()
	}
	if n := r.conns.closeAll(); n > 0 {
		r.logger.Info("closed relayed connections", "count", n)
	}
	return nil
}

// Connections returns the open connections, oldest first.
func (r *Relay) Connections() []Connection {
	return r.conns.list()
}

// ViewerCount returns how many open connections are routed to key.
func (r *Relay) ViewerCount(key string) int {
	return r.conns.countFor(key)
}

// TokenFromRequest extracts the token from the first path segment, or from
// the token query parameter when the path is empty.
func TokenFromRequest(req *http.Request) string {
	path := strings.TrimPrefix(req.URL.Path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if path != "" {
		return path
	}
	return req.URL.Query().Get("token")
}

// ServeHTTP implements http.Handler
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !websocket.IsWebSocketUpgrade(req) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	logger := r.logger.With("remote", req.RemoteAddr)

	raw := TokenFromRequest(req)
	identity, err := r.cfg.Resolver.Verify(raw)
	if err != nil {
		logger.Info("rejected connection", "reason", "authentication", "error", err)
		writeError(w, err)
		return
	}
	logger = logger.With("subject", identity.Subject)

	if r.rateLimiter != nil && !r.rateLimiter.allow(identity.Subject) {
		logger.Warn("rate limit exceeded")
		r.reject(identity.Subject, "", errRateLimited)
		writeError(w, errRateLimited)
		return
	}

	route, t, err := r.route(req.Context(), identity)
	if err != nil {
		logger.Warn("rejected connection", "route", route.String(), "error", err)
		r.reject(identity.Subject, route.Key, err)
		writeError(w, err)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(r.cfg.MaxMessageSize)

	r.serve(ws, route, t, req.RemoteAddr, logger)
}

// route resolves the verified identity and, when needed, ensures the desktop.
func (r *Relay) route(ctx context.Context, identity *token.Identity) (resolver.Route, target.Target, error) {
	route, err := r.cfg.Resolver.ResolveIdentity(ctx, identity)
	if err != nil {
		return route, target.Target{}, err
	}
	if route.IsDirect() {
		return route, route.Target, nil
	}
	t, err := r.cfg.Provisioner.Ensure(ctx, route.Key, route.ViewOnly)
	if err != nil {
		return route, target.Target{}, err
	}
	return route, t, nil
}

func (r *Relay) serve(ws *websocket.Conn, route resolver.Route, t target.Target, remote string, logger *slog.Logger) {
	connID := uuid.New().String()
	logger = logger.With("conn", connID, "target", t.String())
	auditKey := route.Key
	if route.IsDirect() {
		auditKey = audit.DirectKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DialTimeout)
	backend, err := r.dialer.Dial(ctx, t)
	cancel()
	if err != nil {
		if !route.IsDirect() && r.cfg.Provisioner.Invalidate(route.Key, t) {
			logger.Warn("backend unreachable, session invalidated", "key", route.Key, "error", err)
		} else {
			logger.Warn("backend unreachable", "error", err)
		}
		relayErr := errors.RelayIO(fmt.Sprintf("dialing %s", t), err)
		r.record(audit.Event{Type: audit.EventReject, Key: auditKey, Subject: route.Subject, ConnID: connID,
			Target: t.String(), Details: relayErr.Error()})
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "backend unreachable"),
			time.Now().Add(closeWait))
		_ = ws.Close()
		return
	}

	c := r.conns.add(Connection{
		ID:        connID,
		Subject:   route.Subject,
		Key:       route.Key,
		Target:    t,
		ViewOnly:  route.ViewOnly,
		Remote:    remote,
		StartedAt: time.Now(),
	}, func() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(closeWait))
		_ = ws.Close()
		_ = backend.Close()
	})
	defer r.conns.remove(connID)

	logger.Info("relay connected", "route", route.String())
	r.record(audit.Event{Type: audit.EventConnect, Key: auditKey, Subject: route.Subject, ConnID: connID,
		Target: t.String()})

	start := time.Now()
	err = bridge(ws, backend, c, logger)

	info := c.snapshot()
	details := fmt.Sprintf("duration=%s", time.Since(start).Round(time.Millisecond))
	if err != nil {
		details += " error=" + err.Error()
	}
	logger.Info("relay disconnected", "bytes_in", info.BytesIn, "bytes_out", info.BytesOut, "error", err)
	r.record(audit.Event{Type: audit.EventDisconnect, Key: auditKey, Subject: route.Subject, ConnID: connID,
		Target: t.String(), BytesIn: info.BytesIn, BytesOut: info.BytesOut, Details: details})
}

func (r *Relay) reject(subject, key string, err error) {
	if key == "" {
		key = audit.DirectKey
	}
	r.record(audit.Event{Type: audit.EventReject, Key: key, Subject: subject, Details: err.Error()})
}

func (r *Relay) record(e audit.Event) {
	if err := r.cfg.Audit.Log(e); err != nil {
		r.logger.Warn("failed to record audit event", "type", e.Type, "key", e.Key, "error", err)
	}
}
