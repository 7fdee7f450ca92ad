package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/resolver"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/testutil"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/token"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeResolver accepts any token except "bad" and routes by token.
type fakeResolver struct {
	routes   map[string]resolver.Route
	errs     map[string]error
	verifies atomic.Int32
}

func (f *fakeResolver) Verify(raw string) (*token.Identity, error) {
	f.verifies.Add(1)
	if raw == "" || raw == "bad" {
		return nil, errors.Authentication("invalid token", nil)
	}
	return &token.Identity{Subject: "subject-" + raw}, nil
}

func (f *fakeResolver) ResolveIdentity(_ context.Context, id *token.Identity) (resolver.Route, error) {
	raw := strings.TrimPrefix(id.Subject, "subject-")
	if err, ok := f.errs[raw]; ok {
		return resolver.Route{Subject: id.Subject}, err
	}
	route, ok := f.routes[raw]
	if !ok {
		return resolver.Route{}, errors.NoRoute(id.Subject)
	}
	route.Subject = id.Subject
	return route, nil
}

type fakeProvisioner struct {
	mu          sync.Mutex
	targets     map[string]target.Target
	err         error
	ensured     []string
	invalidated []string
}

func (f *fakeProvisioner) Ensure(_ context.Context, key string, _ bool) (target.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, key)
	if f.err != nil {
		return target.Target{}, f.err
	}
	return f.targets[key], nil
}

func (f *fakeProvisioner) Invalidate(key string, _ target.Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, key)
	return true
}

func (f *fakeProvisioner) ensuredKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ensured...)
}

func (f *fakeProvisioner) invalidatedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

type captureAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAudit) Log(e audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

// waitFor polls until an event of type typ has been recorded.
func (c *captureAudit) waitFor(t *testing.T, typ audit.EventType) audit.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, e := range c.events {
			if e.Type == typ {
				c.mu.Unlock()
				return e
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event recorded", typ)
	return audit.Event{}
}

type fixture struct {
	relay *Relay
	srv   *httptest.Server
	res   *fakeResolver
	prov  *fakeProvisioner
	audit *captureAudit
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		res:   &fakeResolver{routes: map[string]resolver.Route{}, errs: map[string]error{}},
		prov:  &fakeProvisioner{targets: map[string]target.Target{}},
		audit: &captureAudit{},
	}
	cfg := Config{
		Resolver:    f.res,
		Provisioner: f.prov,
		Audit:       f.audit,
		DialTimeout: time.Second,
		Logger:      quiet,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.relay = r
	f.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		_ = r.Close()
		f.srv.Close()
	})
	return f
}

func (f *fixture) url(path string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(f.url(path), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Provisioner: &fakeProvisioner{}}); !errors.IsKind(err, errors.KindConfig) {
		t.Errorf("missing resolver: err = %v", err)
	}
	if _, err := New(Config{Resolver: &fakeResolver{}}); !errors.IsKind(err, errors.KindConfig) {
		t.Errorf("missing provisioner: err = %v", err)
	}
}

func TestRelay_VerifiesTokenOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.res.routes["prov"] = resolver.NeedsProvisioning("bob", false)
	f.prov.err = errors.Provisioning("bob", io.ErrUnexpectedEOF)

	_, resp, err := websocket.DefaultDialer.Dial(f.url("/prov"), nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp != nil {
		resp.Body.Close()
	}
	if n := f.res.verifies.Load(); n != 1 {
		t.Errorf("token verified %d times, want 1", n)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"/abc", "abc"},
		{"/abc/websockify", "abc"},
		{"/?token=xyz", "xyz"},
		{"/abc?token=xyz", "abc"},
		{"/", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.url, nil)
		if got := TokenFromRequest(req); got != tt.want {
			t.Errorf("TokenFromRequest(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.Authentication("bad", nil), http.StatusUnauthorized},
		{errors.NoRoute("bob"), http.StatusNotFound},
		{errors.Resolution("directory down", nil), http.StatusBadGateway},
		{errors.Provisioning("bob", nil), http.StatusServiceUnavailable},
		{errRateLimited, http.StatusTooManyRequests},
		{errors.New(errors.KindGeneral, "boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRelay_RejectsBeforeUpgrade(t *testing.T) {
	f := newFixture(t, nil)
	f.res.errs["dirdown"] = errors.Resolution("meeting directory unavailable", nil)
	f.res.routes["prov"] = resolver.NeedsProvisioning("bob", false)

	tests := []struct {
		name     string
		path     string
		provErr  error
		want     int
		wantType string
	}{
		{"bad token", "/bad", nil, http.StatusUnauthorized, "authentication_error"},
		{"missing token", "/", nil, http.StatusUnauthorized, "authentication_error"},
		{"no route", "/nobody", nil, http.StatusNotFound, "no_route_error"},
		{"directory failure", "/dirdown", nil, http.StatusBadGateway, "resolution_error"},
		{"provisioning failure", "/prov", errors.Provisioning("bob", io.ErrUnexpectedEOF), http.StatusServiceUnavailable, "provisioning_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.prov.mu.Lock()
			f.prov.err = tt.provErr
			f.prov.mu.Unlock()

			_, resp, err := websocket.DefaultDialer.Dial(f.url(tt.path), nil)
			if err == nil {
				t.Fatal("expected handshake failure")
			}
			if resp == nil {
				t.Fatalf("no response: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var body errorBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Type != tt.wantType {
				t.Errorf("error type = %q, want %q", body.Error.Type, tt.wantType)
			}
		})
	}
}

func TestRelay_AuthErrorsCarryNoDetail(t *testing.T) {
	f := newFixture(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial(f.url("/bad"), nil)
	if err == nil || resp == nil {
		t.Fatalf("expected rejection, got %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(b), "invalid token") || !strings.Contains(string(b), "unauthorized") {
		t.Errorf("body = %s", b)
	}
}

func TestRelay_RequiresUpgrade(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/tok")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRelay_EchoDirect(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	f := newFixture(t, nil)
	f.res.routes["tok"] = resolver.Direct(echo.Target())

	ws := f.dial(t, "/tok")

	payloads := [][]byte{[]byte("RFB 003.008\n"), {0, 1, 2, 3, 255}, []byte(strings.Repeat("x", 10000))}
	var total int64
	for _, p := range payloads {
		if err := ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
			t.Fatalf("write: %v", err)
		}
		total += int64(len(p))

		var got []byte
		for len(got) < len(p) {
			mt, msg, err := ws.ReadMessage()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if mt != websocket.BinaryMessage {
				t.Errorf("message type = %d, want binary", mt)
			}
			got = append(got, msg...)
		}
		if string(got) != string(p) {
			t.Errorf("echo mismatch: got %d bytes, want %d", len(got), len(p))
		}
	}

	conns := f.relay.Connections()
	if len(conns) != 1 || conns[0].Subject != "subject-tok" || conns[0].Target != echo.Target() {
		t.Errorf("connections = %+v", conns)
	}
	if got := f.prov.ensuredKeys(); len(got) != 0 {
		t.Errorf("direct route should not provision, ensured %v", got)
	}

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	ev := f.audit.waitFor(t, audit.EventDisconnect)
	if ev.Key != audit.DirectKey || ev.BytesIn != total || ev.BytesOut != total {
		t.Errorf("disconnect event = %+v, want %d bytes each way", ev, total)
	}
	if strings.Contains(ev.Details, "error=") {
		t.Errorf("clean close reported an error: %s", ev.Details)
	}
	connect := f.audit.waitFor(t, audit.EventConnect)
	if connect.ConnID == "" || connect.ConnID != ev.ConnID {
		t.Errorf("connect %q and disconnect %q ids differ", connect.ConnID, ev.ConnID)
	}
}

func TestRelay_ProvisionedRoute(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	f := newFixture(t, nil)
	f.res.routes["tok"] = resolver.NeedsProvisioning("bob", false)
	f.prov.targets["bob"] = echo.Target()

	ws := f.dial(t, "/?token=tok")
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if _, msg, err := ws.ReadMessage(); err != nil || string(msg) != "ping" {
		t.Fatalf("read = %q, %v", msg, err)
	}
	if n := f.relay.ViewerCount("bob"); n != 1 {
		t.Errorf("ViewerCount = %d, want 1", n)
	}
	if got := f.prov.ensuredKeys(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("ensured = %v", got)
	}
}

func TestRelay_BackendCloses(t *testing.T) {
	d := testutil.NewDesktop(t, nil)
	f := newFixture(t, nil)
	f.res.routes["tok"] = resolver.Direct(d.Target())

	ws := f.dial(t, "/tok")
	_, msg, err := ws.ReadMessage()
	if err != nil || string(msg) != "RFB 003.008\n" {
		t.Fatalf("first message = %q, %v", msg, err)
	}
	d.Close()

	for {
		if _, _, err = ws.ReadMessage(); err != nil {
			break
		}
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("close err = %v, want normal closure", err)
	}
	f.audit.waitFor(t, audit.EventDisconnect)
}

func TestRelay_DialFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.res.routes["tok"] = resolver.NeedsProvisioning("bob", false)
	f.prov.targets["bob"] = target.Local(t.TempDir() + "/gone.sock")

	ws := f.dial(t, "/tok")
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("err = %v, want close 1013", err)
	}
	if got := f.prov.invalidatedKeys(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("invalidated = %v, want [bob]", got)
	}
	ev := f.audit.waitFor(t, audit.EventReject)
	if ev.Key != "bob" || ev.ConnID == "" {
		t.Errorf("reject event = %+v", ev)
	}
}

func TestRelay_DirectDialFailureDoesNotInvalidate(t *testing.T) {
	f := newFixture(t, nil)
	f.res.routes["tok"] = resolver.Direct(target.Local(t.TempDir() + "/gone.sock"))

	ws := f.dial(t, "/tok")
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("err = %v, want close 1013", err)
	}
	if got := f.prov.invalidatedKeys(); len(got) != 0 {
		t.Errorf("invalidated = %v, want none", got)
	}
}

func TestRelay_RateLimit(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	f := newFixture(t, func(c *Config) {
		c.RateLimitRequests = 2
		c.RateLimitWindow = time.Minute
	})
	f.res.routes["tok"] = resolver.Direct(echo.Target())

	f.dial(t, "/tok")
	f.dial(t, "/tok")
	_, resp, err := websocket.DefaultDialer.Dial(f.url("/tok"), nil)
	if err == nil {
		t.Fatal("third connection should be rate limited")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("resp = %v, err = %v", resp, err)
	}
	resp.Body.Close()

	// Other subjects are unaffected.
	f.res.routes["other"] = resolver.Direct(echo.Target())
	f.dial(t, "/other")
}

func TestRelay_OriginCheck(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	f := newFixture(t, func(c *Config) { c.AllowedOrigins = []string{"https://meet.example.org"} })
	f.res.routes["tok"] = resolver.Direct(echo.Target())

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url("/tok"), header)
	if err == nil {
		t.Fatal("foreign origin should be refused")
	}
	if resp != nil {
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
	}

	header.Set("Origin", "https://meet.example.org")
	ws, _, err := websocket.DefaultDialer.Dial(f.url("/tok"), header)
	if err != nil {
		t.Fatalf("allowed origin refused: %v", err)
	}
	ws.Close()
}

func TestRelay_Subprotocol(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	f := newFixture(t, nil)
	f.res.routes["tok"] = resolver.Direct(echo.Target())

	d := websocket.Dialer{Subprotocols: []string{"binary"}}
	ws, _, err := d.Dial(f.url("/tok"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if ws.Subprotocol() != "binary" {
		t.Errorf("subprotocol = %q, want binary", ws.Subprotocol())
	}
}

func TestRelay_CloseDropsConnections(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	f := newFixture(t, nil)
	f.res.routes["tok"] = resolver.Direct(echo.Target())

	ws := f.dial(t, "/tok")
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatal(err)
	}

	_ = f.relay.Close()
	_, _, err := ws.ReadMessage()
	if err == nil {
		t.Fatal("connection survived Close")
	}
	f.audit.waitFor(t, audit.EventDisconnect)
}
