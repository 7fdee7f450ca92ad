package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/health"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/monitor"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/registry"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/rfb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// SessionView is a session as reported by the admin API.
type SessionView struct {
	registry.Record
	Viewers  int           `json:"viewers"`
	Health   health.Status `json:"health"`
	Geometry *rfb.Result   `json:"geometry,omitempty"`
}

// HealthView is the /healthz response.
type HealthView struct {
	Status      string                 `json:"status"`
	Sessions    map[registry.State]int `json:"sessions"`
	Connections int                    `json:"connections"`
}

// AdminConfig wires the admin API. Only Registry is required.
type AdminConfig struct {
	Registry *registry.Registry
	Relay    *Relay
	Geometry *rfb.GeometryCache
	Monitor  *monitor.Monitor
	Audit    *audit.Logger
	Logger   *slog.Logger
}

// Admin serves the read-only admin API.
type Admin struct {
	cfg AdminConfig
	mux *http.ServeMux
}

// NewAdmin creates the admin handler.
func NewAdmin(cfg AdminConfig) (*Admin, error) {
	if cfg.Registry == nil {
		return nil, errors.ConfigError("admin API requires a registry", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &Admin{cfg: cfg, mux: http.NewServeMux()}
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /sessions", a.handleSessions)
	a.mux.HandleFunc("GET /sessions/{key}", a.handleSession)
	a.mux.HandleFunc("GET /sessions/{key}/events", a.handleEvents)
	a.mux.HandleFunc("GET /connections", a.handleConnections)
	a.mux.HandleFunc("GET /probe", a.handleProbe)
	return a, nil
}

// ServeHTTP implements http.Handler
func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *Admin) handleHealth(w http.ResponseWriter, _ *http.Request) {
	view := HealthView{Status: "ok", Sessions: a.cfg.Registry.Counts()}
	if a.cfg.Relay != nil {
		view.Connections = len(a.cfg.Relay.Connections())
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *Admin) view(rec registry.Record) SessionView {
	v := SessionView{Record: rec, Health: health.StatusUnknown}
	if a.cfg.Relay != nil {
		v.Viewers = a.cfg.Relay.ViewerCount(rec.Key)
	}
	if a.cfg.Monitor != nil {
		if res, ok := a.cfg.Monitor.Result(rec.Key); ok {
			v.Health = res.Status
			v.Geometry = res.Geometry
		}
	}
	if v.Geometry == nil && a.cfg.Geometry != nil && rec.State == registry.StateReady {
		if res, ok := a.cfg.Geometry.Peek(rec.Target); ok {
			v.Geometry = &res
		}
	}
	return v
}

func (a *Admin) handleSessions(w http.ResponseWriter, _ *http.Request) {
	records := a.cfg.Registry.Snapshot()
	views := make([]SessionView, 0, len(records))
	for _, rec := range records {
		views = append(views, a.view(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleSession reports one session. Ready sessions are probed for their
// geometry unless it is already known.
func (a *Admin) handleSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, ok := a.cfg.Registry.Get(key)
	if !ok {
		writeAdminError(w, http.StatusNotFound, "session "+key+" not found")
		return
	}
	v := a.view(rec)
	if v.Geometry == nil && a.cfg.Geometry != nil && rec.State == registry.StateReady {
		res, err := a.cfg.Geometry.Get(r.Context(), rec.Target)
		if err != nil {
			a.cfg.Logger.Debug("geometry probe failed", "key", key, "error", err)
			v.Health = health.StatusOf(err)
		} else {
			v.Geometry = &res
			v.Health = health.StatusHealthy
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *Admin) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Audit == nil {
		writeAdminError(w, http.StatusNotFound, "audit log not enabled")
		return
	}
	events, err := a.cfg.Audit.Events(r.PathValue("key"))
	if err != nil {
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *Admin) handleConnections(w http.ResponseWriter, _ *http.Request) {
	conns := []Connection{}
	if a.cfg.Relay != nil {
		conns = a.cfg.Relay.Connections()
	}
	writeJSON(w, http.StatusOK, conns)
}

func (a *Admin) handleProbe(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Geometry == nil {
		writeAdminError(w, http.StatusNotFound, "probing not enabled")
		return
	}
	t, err := target.Parse(r.URL.Query().Get("target"))
	if err != nil {
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if r.URL.Query().Get("fresh") != "" {
		a.cfg.Geometry.Forget(t)
	}
	res, err := a.cfg.Geometry.Get(ctx, t)
	if err != nil {
		status := http.StatusBadGateway
		if errors.IsKind(err, errors.KindProbeTimeout) {
			status = http.StatusGatewayTimeout
		}
		writeAdminError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type adminErrorBody struct {
	Error string `json:"error"`
}

func writeAdminError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, adminErrorBody{Error: msg})
}
