package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/adminclient"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/provision"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/rfb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/testutil"
)

// Harness runs a full gateway on loopback listeners.
type Harness struct {
	T        *testing.T
	Env      *testutil.TestEnv
	App      *app.App
	Admin    *adminclient.Client
	RelayURL string

	cancel context.CancelFunc
	done   chan error
}

// Option customizes the app built by NewHarness.
type Option = app.Option

// NewHarness loads a test config with extraTOML appended, builds the app
// with backend and serves it until the test ends.
func NewHarness(t *testing.T, extraTOML string, backend provision.Backend, opts ...Option) *Harness {
	t.Helper()

	env := testutil.NewTestEnv(t, extraTOML)
	opts = append([]Option{app.WithLogger(logging.Discard()), app.WithBackend(backend)}, opts...)

	a, err := app.New(env.Config, opts...)
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	relayLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		a.Close()
		t.Fatalf("listen relay: %v", err)
	}
	adminLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		relayLn.Close()
		a.Close()
		t.Fatalf("listen admin: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		T:        t,
		Env:      env,
		App:      a,
		Admin:    adminclient.New(adminLn.Addr().String(), nil),
		RelayURL: "ws://" + relayLn.Addr().String(),
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { h.done <- a.Serve(ctx, relayLn, adminLn) }()
	t.Cleanup(h.Stop)
	return h
}

// Stop shuts the gateway down and waits for it to exit.
func (h *Harness) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		if err != nil {
			h.T.Errorf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		h.T.Error("gateway did not stop")
	}
	h.App.Close()
}

// Viewer is a WebSocket client that completed the RFB handshake.
type Viewer struct {
	Conn    *websocket.Conn
	Version rfb.Version
	Init    rfb.ServerInit
}

// Close closes the viewer's connection.
func (v *Viewer) Close() error { return v.Conn.Close() }

// Dial opens a WebSocket to the relay with raw in the path. meeting, when
// not empty, is sent as a query parameter, which the relay ignores. The
// response is returned even when the upgrade is refused.
func (h *Harness) Dial(ctx context.Context, raw, meeting string) (*websocket.Conn, *http.Response, error) {
	u := h.RelayURL + "/" + url.PathEscape(raw)
	if meeting != "" {
		u += "?" + url.Values{"meeting": {meeting}}.Encode()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second, Subprotocols: []string{"binary"}}
	return dialer.DialContext(ctx, u, nil)
}

// Connect dials the relay with a token for subject carrying meeting as its
// meetingID claim, and runs the RFB handshake through it.
func (h *Harness) Connect(ctx context.Context, subject, meeting string) (*Viewer, error) {
	conn, resp, err := h.Dial(ctx, h.Env.Token(subject, meeting), "")
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	version, si, err := rfbHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return &Viewer{Conn: conn, Version: version, Init: si}, nil
}

// Stream adapts a WebSocket connection to io.ReadWriter. Reads continue
// across message boundaries; each Write is sent as one binary message.
type Stream struct {
	conn *websocket.Conn
	r    io.Reader
}

// NewStream wraps conn.
func NewStream(conn *websocket.Conn) *Stream {
	return &Stream{conn: conn}
}

func (s *Stream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *Stream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func rfbHandshake(conn *websocket.Conn) (rfb.Version, rfb.ServerInit, error) {
	return rfb.Handshake(NewStream(conn))
}
