package testutil

import (
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// Desktop is a fake RFB server that completes the handshake through
// ServerInit and then discards whatever the client sends.
type Desktop struct {
	// Name, Width and Height are reported in ServerInit.
	Name   string
	Width  uint16
	Height uint16
	// Version is the 12-byte version message sent first.
	Version string
	// SecurityTypes are offered to 3.7+ clients; a 3.3 client is told the
	// first one.
	SecurityTypes []byte
	// Refuse, if set, is sent as the failure reason instead of security types.
	Refuse string
	// FailSecurity makes a 3.8 SecurityResult report failure.
	FailSecurity bool
	// Silent accepts connections but never speaks.
	Silent bool

	listener net.Listener
	target   target.Target

	mu          sync.Mutex
	connections int
	sharedFlags []byte
	open        []net.Conn
	wg          sync.WaitGroup
}

// NewDesktop starts a 1024x768 "TestDesktop" speaking RFB 3.8 on a
// loopback TCP port. Configure it with mutate before it accepts.
func NewDesktop(t testing.TB, mutate func(*Desktop)) *Desktop {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	return startDesktop(t, ln, target.TCP("127.0.0.1", addr.Port), mutate)
}

// NewUnixDesktop is NewDesktop on a socket in a temporary directory.
func NewUnixDesktop(t testing.TB, mutate func(*Desktop)) *Desktop {
	t.Helper()
	d, err := ListenDesktop(t, filepath.Join(t.TempDir(), "desktop.sock"), mutate)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return d
}

// ListenDesktop starts a desktop on the unix socket at path. Unlike the
// other constructors it reports failure instead of failing the test, so
// it is safe to call from a goroutine.
func ListenDesktop(t testing.TB, path string, mutate func(*Desktop)) (*Desktop, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return startDesktop(t, ln, target.Local(path), mutate), nil
}

func startDesktop(t testing.TB, ln net.Listener, tgt target.Target, mutate func(*Desktop)) *Desktop {
	d := &Desktop{
		Name:          "TestDesktop",
		Width:         1024,
		Height:        768,
		Version:       "RFB 003.008\n",
		SecurityTypes: []byte{1},
		listener:      ln,
		target:        tgt,
	}
	if mutate != nil {
		mutate(d)
	}
	d.wg.Add(1)
	go d.acceptLoop()
	t.Cleanup(d.Close)
	return d
}

// Target returns where the desktop listens.
func (d *Desktop) Target() target.Target { return d.target }

// Connections returns how many clients have connected.
func (d *Desktop) Connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connections
}

// SharedFlags returns the ClientInit shared flag sent by each client that
// got that far.
func (d *Desktop) SharedFlags() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.sharedFlags...)
}

// Close stops accepting, drops open connections and waits for them.
func (d *Desktop) Close() {
	_ = d.listener.Close()
	d.mu.Lock()
	for _, c := range d.open {
		_ = c.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Desktop) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.connections++
		d.open = append(d.open, conn)
		d.mu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer conn.Close()
			_ = d.serve(conn)
		}()
	}
}

func (d *Desktop) serve(conn net.Conn) error {
	if d.Silent {
		_, err := io.Copy(io.Discard, conn)
		return err
	}
	if _, err := io.WriteString(conn, d.Version); err != nil {
		return err
	}
	var reply [12]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return err
	}
	minor := string(reply[8:11])

	if minor == "003" {
		kind := uint32(0)
		if d.Refuse == "" && len(d.SecurityTypes) > 0 {
			kind = uint32(d.SecurityTypes[0])
		}
		if err := binary.Write(conn, binary.BigEndian, kind); err != nil {
			return err
		}
		if kind == 0 {
			return writeReason(conn, d.Refuse)
		}
	} else {
		if d.Refuse != "" {
			if _, err := conn.Write([]byte{0}); err != nil {
				return err
			}
			return writeReason(conn, d.Refuse)
		}
		msg := append([]byte{byte(len(d.SecurityTypes))}, d.SecurityTypes...)
		if _, err := conn.Write(msg); err != nil {
			return err
		}
		var choice [1]byte
		if _, err := io.ReadFull(conn, choice[:]); err != nil {
			return err
		}
		if minor == "008" {
			if d.FailSecurity {
				if err := binary.Write(conn, binary.BigEndian, uint32(1)); err != nil {
					return err
				}
				return writeReason(conn, "authentication failed")
			}
			if err := binary.Write(conn, binary.BigEndian, uint32(0)); err != nil {
				return err
			}
		}
	}

	var shared [1]byte
	if _, err := io.ReadFull(conn, shared[:]); err != nil {
		return err
	}
	d.mu.Lock()
	d.sharedFlags = append(d.sharedFlags, shared[0])
	d.mu.Unlock()

	si := make([]byte, 24, 24+len(d.Name))
	binary.BigEndian.PutUint16(si[0:2], d.Width)
	binary.BigEndian.PutUint16(si[2:4], d.Height)
	// 32bpp, depth 24, little endian, true colour, 255/255/255, shifts 16/8/0.
	copy(si[4:20], []byte{32, 24, 0, 1, 0, 255, 0, 255, 0, 255, 16, 8, 0, 0, 0, 0})
	binary.BigEndian.PutUint32(si[20:24], uint32(len(d.Name)))
	si = append(si, d.Name...)
	if _, err := conn.Write(si); err != nil {
		return err
	}

	_, err := io.Copy(io.Discard, conn)
	return err
}

func writeReason(w io.Writer, reason string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(reason))); err != nil {
		return err
	}
	_, err := io.WriteString(w, reason)
	return err
}

// EchoServer is a backend that writes back every byte it receives.
type EchoServer struct {
	listener net.Listener
	target   target.Target
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns []net.Conn
}

// NewEchoServer starts an echo backend on a unix socket.
func NewEchoServer(t testing.TB) *EchoServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "echo.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &EchoServer{listener: ln, target: target.Local(path)}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Target returns where the server listens.
func (s *EchoServer) Target() target.Target { return s.target }

// Close stops the server and drops open connections.
func (s *EchoServer) Close() {
	_ = s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *EchoServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			_, _ = io.Copy(conn, conn)
		}()
	}
}
