// Package app wires the vncgate components from a configuration.
// Options replace individual components for testing.
package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/bbb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/lookup"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/monitor"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/provision"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/relay"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/resolver"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/rfb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/token"
)

// Meetings is the meeting directory used for fallback routes and viewer
// enumeration.
type Meetings interface {
	FindMeetingForAttendee(ctx context.Context, fullName string) (string, bool, error)
	GetMeetingInfo(ctx context.Context, meetingID string) (*bbb.Meeting, error)
}

// App holds the application dependencies
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Registry    *registry.Registry
	Audit       *audit.Logger
	Resolver    *resolver.Resolver
	Backend     provision.Backend
	Provisioner *provision.Provisioner
	Prober      *rfb.Prober
	Geometry    *rfb.GeometryCache
	Monitor     *monitor.Monitor
	Relay       *relay.Relay
	Admin       *relay.Admin

	// Meetings is nil unless the meeting directory is enabled.
	Meetings Meetings

	closers   []io.Closer
	closeOnce sync.Once
}

type options struct {
	logger     *slog.Logger
	backend    provision.Backend
	lookup     lookup.Lookup
	meetings   Meetings
	httpClient *http.Client
}

// Option is a function that configures the App
type Option func(*options)

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBackend replaces the configured provisioner backend.
func WithBackend(b provision.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLookup replaces the configured identity lookups.
func WithLookup(l lookup.Lookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithMeetings replaces the configured meeting directory.
func WithMeetings(m Meetings) Option {
	return func(o *options) { o.meetings = m }
}

// WithHTTPClient sets the client used for the HTTP lookup and the meeting
// directory.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New builds every component from cfg. Call Close to release the
// resources it opened.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Lookup.HTTPTimeout}
	}

	a := &App{Config: cfg, Logger: o.logger}
	if err := a.build(o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(o options) error {
	cfg := a.Config

	secret, err := cfg.TokenSecret()
	if err != nil {
		return err
	}
	verifier, err := token.NewVerifier(secret, cfg.Token.Leeway)
	if err != nil {
		return err
	}

	lk := o.lookup
	if lk == nil {
		if lk, err = a.buildLookup(o.httpClient); err != nil {
			return err
		}
	}

	a.Meetings = o.meetings
	if a.Meetings == nil && cfg.BBB.Enabled {
		serverURL, bbbSecret, err := cfg.BBBCredentials()
		if err != nil {
			return err
		}
		a.Meetings = bbb.NewClient(serverURL, bbbSecret, o.httpClient)
	}

	resCfg := resolver.Config{
		Verifier:      verifier,
		Lookup:        lk,
		DirectHost:    cfg.Fallback.DirectHost,
		DefaultTarget: cfg.DefaultTarget(),
		Logger:        logging.Component(a.Logger, "resolver"),
	}
	if a.Meetings != nil {
		resCfg.Meetings = a.Meetings
	}
	if a.Resolver, err = resolver.New(resCfg); err != nil {
		return err
	}

	a.Backend = o.backend
	if a.Backend == nil {
		if a.Backend, err = a.buildBackend(); err != nil {
			return err
		}
	}

	a.Registry = registry.New()
	a.Audit = audit.NewLogger(cfg.AuditDir())

	var lock *provision.AccountLock
	if cfg.Provision.AccountLockFile != "" {
		lock = provision.NewAccountLock(cfg.Provision.AccountLockFile)
	}
	a.Provisioner, err = provision.New(provision.Config{
		Backend:         a.Backend,
		Registry:        a.Registry,
		Audit:           a.Audit,
		AccountLock:     lock,
		Poll:            cfg.PollConfig(),
		ReadyTimeout:    cfg.Provision.ReadyTimeout,
		FallbackAccount: cfg.Fallback.Account,
		Logger:          logging.Component(a.Logger, "provision"),
	})
	if err != nil {
		return err
	}

	a.Prober = rfb.NewProber(cfg.Probe.Timeout, logging.Component(a.Logger, "probe"))
	a.Geometry = rfb.NewGeometryCache(a.Prober)
	a.Monitor = monitor.New(cfg.Probe.MonitorInterval, a.Registry, a.Prober,
		monitor.WithAuditLogger(a.Audit),
		monitor.WithLogger(logging.Component(a.Logger, "monitor")),
	)

	a.Relay, err = relay.New(relay.Config{
		Resolver:          a.Resolver,
		Provisioner:       a.Provisioner,
		Audit:             a.Audit,
		AllowedOrigins:    cfg.Listen.AllowedOrigins,
		Subprotocols:      cfg.Listen.Subprotocols,
		DialTimeout:       cfg.Listen.DialTimeout,
		RateLimitRequests: cfg.Listen.RateLimitRequests,
		RateLimitWindow:   cfg.Listen.RateLimitWindow,
		Logger:            logging.Component(a.Logger, "relay"),
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Relay)

	a.Admin, err = relay.NewAdmin(relay.AdminConfig{
		Registry: a.Registry,
		Relay:    a.Relay,
		Geometry: a.Geometry,
		Monitor:  a.Monitor,
		Audit:    a.Audit,
		Logger:   logging.Component(a.Logger, "admin"),
	})
	return err
}

// buildLookup chains the configured lookups: static table, SQLite table,
// then HTTP service.
func (a *App) buildLookup(client *http.Client) (lookup.Lookup, error) {
	cfg := a.Config.Lookup
	var chain lookup.Chain

	if len(cfg.Users) > 0 || cfg.SquashSpaces {
		chain = append(chain, lookup.NewStatic(cfg.Users, cfg.SquashSpaces))
	}
	if cfg.SQLitePath != "" {
		db, err := lookup.OpenSQLite(lookup.SQLiteConfig{
			Path:         cfg.SQLitePath,
			CreateSchema: cfg.CreateSchema,
			Logger:       a.Logger,
		})
		if err != nil {
			return nil, errors.ConfigError("failed to open identity database", err)
		}
		a.closers = append(a.closers, db)
		chain = append(chain, db)
	}
	if cfg.HTTPEndpoint != "" {
		secret, err := a.Config.LookupHTTPSecret()
		if err != nil {
			return nil, err
		}
		chain = append(chain, lookup.NewHTTP(cfg.HTTPEndpoint, secret, client))
	}
	return chain, nil
}

func (a *App) buildBackend() (provision.Backend, error) {
	cfg := a.Config
	switch cfg.Provision.Backend {
	case config.BackendContainer:
		c := cfg.Container
		return provision.NewContainerBackend(provision.ContainerConfig{
			Command:            c.Command,
			Image:              c.Image,
			Prefix:             c.Prefix,
			SocketDir:          c.SocketDir,
			ContainerSocketDir: c.ContainerSocketDir,
			ExtraArgs:          c.ExtraArgs,
			ViewOnlyArgs:       c.ViewOnlyArgs,
			Group:              c.Group,
			UseSudo:            c.UseSudo,
			Logger:             a.Logger,
		})
	case config.BackendLocal, "":
		l := cfg.Local
		return provision.NewLocalBackend(provision.LocalConfig{
			SocketDir:     l.SocketDir,
			HomeDir:       l.HomeDir,
			HomeSocket:    l.HomeSocket,
			Group:         l.Group,
			UseSudo:       l.UseSudo,
			AccountCheck:  l.AccountCheck,
			AccountCreate: l.AccountCreate,
			SpawnCommand:  l.SpawnCommand,
			ViewOnlyArgs:  l.ViewOnlyArgs,
			Logger:        a.Logger,
		})
	default:
		return nil, errors.ConfigError("unknown provision backend "+cfg.Provision.Backend, nil)
	}
}

// Run listens on the configured addresses and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	relayLn, err := net.Listen("tcp", a.Config.Listen.Relay)
	if err != nil {
		return errors.ConfigError("failed to listen on "+a.Config.Listen.Relay, err)
	}
	var adminLn net.Listener
	if a.Config.Listen.Admin != "" {
		adminLn, err = net.Listen("tcp", a.Config.Listen.Admin)
		if err != nil {
			relayLn.Close()
			return errors.ConfigError("failed to listen on "+a.Config.Listen.Admin, err)
		}
	}
	return a.Serve(ctx, relayLn, adminLn)
}

// Serve runs the relay on relayLn, the admin API on adminLn (if not nil)
// and the health monitor until ctx is done or one of them fails. Relayed
// connections are closed before Serve returns.
func (a *App) Serve(ctx context.Context, relayLn, adminLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	run := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			err := fn(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			a.Logger.Error("component failed", "component", name, "error", err)
			return err
		})
	}

	relaySrv := relay.NewServer("relay", a.Config.Listen.Relay, a.Relay, a.Logger)
	run("relay", func(ctx context.Context) error { return relaySrv.Serve(ctx, relayLn) })
	if adminLn != nil {
		adminSrv := relay.NewServer("admin", a.Config.Listen.Admin, a.Admin, a.Logger)
		run("admin", func(ctx context.Context) error { return adminSrv.Serve(ctx, adminLn) })
	}
	if a.Config.Probe.MonitorInterval > 0 {
		run("monitor", a.Monitor.Run)
	}

	// Hijacked connections outlive the HTTP servers; close them explicitly.
	g.Go(func() error {
		<-ctx.Done()
		if err := a.Relay.Close(); err != nil {
			a.Logger.Warn("failed to close relay", "error", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases the relay and any open lookup databases.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i].Close(); err != nil {
				a.Logger.Debug("close failed", "error", err)
			}
		}
	})
}
