package rfb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
)

// Wire constants of the handshake subset spoken here.
const (
	versionLen     = 12
	serverInitLen  = 24
	pixelFormatLen = 16

	// SecurityInvalid carries a failure reason instead of a type.
	SecurityInvalid uint8 = 0
	// SecurityNone is the only security type a probe accepts.
	SecurityNone uint8 = 1

	// MaxNameLength bounds the desktop name read from ServerInit.
	MaxNameLength = 64 * 1024

	maxReasonLength = 64 * 1024
)

// Version is an RFB protocol version.
type Version struct {
	Major int
	Minor int
}

// Protocol versions a client may negotiate.
var (
	Version33 = Version{3, 3}
	Version37 = Version{3, 7}
	Version38 = Version{3, 8}
)

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Less reports whether v is older than o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

// MarshalText encodes the version as "3.8".
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes a version written by MarshalText.
func (v *Version) UnmarshalText(b []byte) error {
	major, minor, ok := strings.Cut(string(b), ".")
	if !ok {
		return fmt.Errorf("invalid version %q", b)
	}
	var err error
	if v.Major, err = strconv.Atoi(major); err != nil {
		return fmt.Errorf("invalid version %q: %w", b, err)
	}
	if v.Minor, err = strconv.Atoi(minor); err != nil {
		return fmt.Errorf("invalid version %q: %w", b, err)
	}
	return nil
}

// ProtocolString renders the 12-byte version message.
func (v Version) ProtocolString() string {
	return fmt.Sprintf("RFB %03d.%03d\n", v.Major, v.Minor)
}

// ParseVersion parses a 12-byte "RFB xxx.yyy\n" version message.
func ParseVersion(b []byte) (Version, error) {
	if len(b) != versionLen || !bytes.HasPrefix(b, []byte("RFB ")) || b[7] != '.' || b[11] != '\n' {
		return Version{}, errors.Protocol(fmt.Sprintf("bad version message %q", b), nil)
	}
	major, err := strconv.Atoi(string(b[4:7]))
	if err != nil {
		return Version{}, errors.Protocol(fmt.Sprintf("bad major version %q", b[4:7]), err)
	}
	minor, err := strconv.Atoi(string(b[8:11]))
	if err != nil {
		return Version{}, errors.Protocol(fmt.Sprintf("bad minor version %q", b[8:11]), err)
	}
	return Version{Major: major, Minor: minor}, nil
}

// Negotiate picks the version a client replies with: the server's version
// capped at 3.8. Unknown minors between 3.3 and 3.7 fall back to 3.3.
func Negotiate(server Version) (Version, error) {
	switch {
	case server.Major < 3 || server == (Version{3, 0}):
		return Version{}, errors.Protocol(fmt.Sprintf("unsupported server version %s", server), nil)
	case !server.Less(Version38):
		return Version38, nil
	case server == Version37:
		return Version37, nil
	default:
		return Version33, nil
	}
}

// PixelFormat is the server's native pixel format from ServerInit.
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColour   bool
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
}

func decodePixelFormat(b []byte) PixelFormat {
	return PixelFormat{
		BitsPerPixel: b[0],
		Depth:        b[1],
		BigEndian:    b[2] != 0,
		TrueColour:   b[3] != 0,
		RedMax:       binary.BigEndian.Uint16(b[4:6]),
		GreenMax:     binary.BigEndian.Uint16(b[6:8]),
		BlueMax:      binary.BigEndian.Uint16(b[8:10]),
		RedShift:     b[10],
		GreenShift:   b[11],
		BlueShift:    b[12],
	}
}

// Encode renders the 16-byte wire form, padding included.
func (p PixelFormat) Encode() []byte {
	b := make([]byte, pixelFormatLen)
	b[0] = p.BitsPerPixel
	b[1] = p.Depth
	if p.BigEndian {
		b[2] = 1
	}
	if p.TrueColour {
		b[3] = 1
	}
	binary.BigEndian.PutUint16(b[4:6], p.RedMax)
	binary.BigEndian.PutUint16(b[6:8], p.GreenMax)
	binary.BigEndian.PutUint16(b[8:10], p.BlueMax)
	b[10] = p.RedShift
	b[11] = p.GreenShift
	b[12] = p.BlueShift
	return b
}

// ServerInit is the server's initialisation message.
type ServerInit struct {
	Width       uint16
	Height      uint16
	PixelFormat PixelFormat
	Name        string
}

// ReadServerInit decodes a ServerInit message from r.
func ReadServerInit(r io.Reader) (ServerInit, error) {
	var fixed [serverInitLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return ServerInit{}, fmt.Errorf("reading ServerInit: %w", err)
	}
	nameLen := binary.BigEndian.Uint32(fixed[20:24])
	if nameLen > MaxNameLength {
		return ServerInit{}, errors.Protocol(fmt.Sprintf("desktop name length %d exceeds %d", nameLen, MaxNameLength), nil)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return ServerInit{}, fmt.Errorf("reading desktop name: %w", err)
	}
	return ServerInit{
		Width:       binary.BigEndian.Uint16(fixed[0:2]),
		Height:      binary.BigEndian.Uint16(fixed[2:4]),
		PixelFormat: decodePixelFormat(fixed[4:20]),
		Name:        string(name),
	}, nil
}

// WriteServerInit encodes s to w.
func WriteServerInit(w io.Writer, s ServerInit) error {
	buf := make([]byte, serverInitLen, serverInitLen+len(s.Name))
	binary.BigEndian.PutUint16(buf[0:2], s.Width)
	binary.BigEndian.PutUint16(buf[2:4], s.Height)
	copy(buf[4:20], s.PixelFormat.Encode())
	binary.BigEndian.PutUint32(buf[20:24], uint32(len(s.Name)))
	buf = append(buf, s.Name...)
	_, err := w.Write(buf)
	return err
}

// readReason reads a u32-length-prefixed failure reason.
func readReason(r io.Reader) string {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "no reason given"
	}
	if n > maxReasonLength {
		return fmt.Sprintf("reason of %d bytes withheld", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "truncated reason"
	}
	return string(b)
}

// WriteReason encodes a u32-length-prefixed failure reason.
func WriteReason(w io.Writer, reason string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(reason))); err != nil {
		return err
	}
	_, err := io.WriteString(w, reason)
	return err
}

// Handshake runs the client side of the RFB handshake on rw up to and
// including ServerInit. It always requests a shared session so existing
// viewers are never disconnected.
func Handshake(rw io.ReadWriter) (Version, ServerInit, error) {
	var vb [versionLen]byte
	if _, err := io.ReadFull(rw, vb[:]); err != nil {
		return Version{}, ServerInit{}, fmt.Errorf("reading version: %w", err)
	}
	server, err := ParseVersion(vb[:])
	if err != nil {
		return Version{}, ServerInit{}, err
	}
	version, err := Negotiate(server)
	if err != nil {
		return Version{}, ServerInit{}, err
	}
	if _, err := io.WriteString(rw, version.ProtocolString()); err != nil {
		return version, ServerInit{}, fmt.Errorf("writing version: %w", err)
	}

	if err := negotiateSecurity(rw, version); err != nil {
		return version, ServerInit{}, err
	}

	// ClientInit: shared-flag = 1.
	if _, err := rw.Write([]byte{1}); err != nil {
		return version, ServerInit{}, fmt.Errorf("writing ClientInit: %w", err)
	}

	si, err := ReadServerInit(rw)
	if err != nil {
		return version, ServerInit{}, err
	}
	return version, si, nil
}

func negotiateSecurity(rw io.ReadWriter, version Version) error {
	if version == Version33 {
		var kind uint32
		if err := binary.Read(rw, binary.BigEndian, &kind); err != nil {
			return fmt.Errorf("reading security type: %w", err)
		}
		switch kind {
		case uint32(SecurityInvalid):
			return errors.Protocol("server refused connection: "+readReason(rw), nil)
		case uint32(SecurityNone):
			return nil
		default:
			return errors.Protocol(fmt.Sprintf("unsupported security type %d", kind), nil)
		}
	}

	var count [1]byte
	if _, err := io.ReadFull(rw, count[:]); err != nil {
		return fmt.Errorf("reading security types: %w", err)
	}
	if count[0] == 0 {
		return errors.Protocol("server refused connection: "+readReason(rw), nil)
	}
	types := make([]byte, count[0])
	if _, err := io.ReadFull(rw, types); err != nil {
		return fmt.Errorf("reading security types: %w", err)
	}
	if bytes.IndexByte(types, SecurityNone) < 0 {
		return errors.Protocol(fmt.Sprintf("server offers no supported security type (offered %v)", types), nil)
	}
	if _, err := rw.Write([]byte{SecurityNone}); err != nil {
		return fmt.Errorf("writing security type: %w", err)
	}

	if version == Version37 {
		return nil
	}
	var result uint32
	if err := binary.Read(rw, binary.BigEndian, &result); err != nil {
		return fmt.Errorf("reading SecurityResult: %w", err)
	}
	if result != 0 {
		return errors.Protocol("security handshake failed: "+readReason(rw), nil)
	}
	return nil
}
