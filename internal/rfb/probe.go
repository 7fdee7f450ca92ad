package rfb

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// DefaultTimeout bounds a whole probe: dial plus handshake.
const DefaultTimeout = 5 * time.Second

// Result is what a probe learns about a desktop.
type Result struct {
	Target  target.Target `json:"target"`
	Name    string        `json:"name"`
	Width   uint16        `json:"width"`
	Height  uint16        `json:"height"`
	Version Version       `json:"version"`
}

// Outcome is the result of an asynchronous probe.
type Outcome struct {
	Result Result
	Err    error
}

// Prober probes desktops. Each call owns its connection and decoder state,
// so one Prober may be used from many goroutines.
type Prober struct {
	Timeout time.Duration
	Logger  *slog.Logger
	dialer  target.Dialer
}

// NewProber creates a Prober. A zero timeout means DefaultTimeout.
func NewProber(timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{Timeout: timeout, Logger: logger}
}

// Probe connects to t, completes the handshake through ServerInit and
// disconnects. Unreachable or silent desktops yield a ProbeTimeout error;
// malformed replies yield a Protocol error.
func (p *Prober) Probe(ctx context.Context, t target.Target) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	conn, err := p.dialer.Dial(ctx, t)
	if err != nil {
		return Result{}, errors.ProbeTimeout(t.String(), err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return Result{}, errors.ProbeTimeout(t.String(), err)
	}
	// Unblock the handshake if ctx is cancelled early.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	version, si, err := Handshake(conn)
	if err != nil {
		return Result{}, classify(t, err)
	}

	res := Result{Target: t, Name: si.Name, Width: si.Width, Height: si.Height, Version: version}
	p.Logger.Debug("probed desktop", "target", t.String(), "name", res.Name,
		"width", res.Width, "height", res.Height, "version", version.String())
	return res, nil
}

// classify maps handshake failures to error kinds: timeouts stay timeouts,
// everything else is a protocol violation.
func classify(t target.Target, err error) error {
	if errors.KindOf(err) == errors.KindProtocol {
		return err
	}
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, os.ErrDeadlineExceeded) {
		return errors.ProbeTimeout(t.String(), err)
	}
	return errors.Protocol("handshake with "+t.String()+" failed", err)
}

// ProbeAsync runs Probe in its own goroutine. The channel receives exactly
// one Outcome and is then closed.
func (p *Prober) ProbeAsync(ctx context.Context, t target.Target) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		res, err := p.Probe(ctx, t)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// ProbeAll probes targets with at most parallelism probes in flight and
// returns the successful results in input order. Failures are logged and
// omitted.
func (p *Prober) ProbeAll(ctx context.Context, targets []target.Target, parallelism int) []Result {
	if parallelism <= 0 {
		parallelism = len(targets)
	}
	outcomes := make([]Outcome, len(targets))

	// Failures stay per target and never cancel the other probes.
	var g errgroup.Group
	g.SetLimit(max(parallelism, 1))
	for i, t := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Err: errors.ProbeTimeout(t.String(), err)}
				return nil
			}
			res, err := p.Probe(ctx, t)
			outcomes[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(targets))
	for i, o := range outcomes {
		if o.Err != nil {
			p.Logger.Debug("probe failed", "target", targets[i].String(), "error", o.Err)
			continue
		}
		results = append(results, o.Result)
	}
	return results
}
