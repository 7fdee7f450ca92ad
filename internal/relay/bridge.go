package relay

import (
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
)

const (
	copyBufferSize = 32 * 1024
	closeWait      = time.Second
)

// bridge copies WebSocket messages to backend and backend bytes to
// WebSocket binary messages until either side stops. It closes both ends
// and returns the first unexpected error, if any.
func bridge(ws *websocket.Conn, backend net.Conn, c *liveConn, logger *slog.Logger) error {
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		errMu    sync.Mutex
	)
	record := func(err error) {
		if err == nil || isExpectedClose(err) {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}
	closeBoth := func() {
		once.Do(func() {
			_ = backend.Close()
			_ = ws.Close()
		})
	}

	wg.Add(2)

	// WebSocket -> backend
	go func() {
		defer wg.Done()
		defer closeBoth()
		for {
			_, r, err := ws.NextReader()
			if err != nil {
				record(err)
				return
			}
			n, err := io.Copy(backend, r)
			c.bytesIn.Add(n)
			if err != nil {
				record(err)
				return
			}
		}
	}()

	// backend -> WebSocket
	go func() {
		defer wg.Done()
		defer closeBoth()
		buf := make([]byte, copyBufferSize)
		for {
			n, err := backend.Read(buf)
			if n > 0 {
				if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					record(werr)
					return
				}
				c.bytesOut.Add(int64(n))
			}
			if err != nil {
				if err == io.EOF {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "backend closed"),
						time.Now().Add(closeWait))
				} else {
					record(err)
				}
				return
			}
		}
	}()

	wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	if firstErr != nil {
		logger.Debug("relay stream ended with error", "error", firstErr)
		return errors.RelayIO("relay stream failed", firstErr)
	}
	return nil
}

// isExpectedClose reports whether err is an ordinary end of stream.
func isExpectedClose(err error) bool {
	if err == io.EOF || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	// Reads racing our own Close.
	return strings.Contains(err.Error(), "use of closed network connection")
}
