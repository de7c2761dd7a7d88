// File: internal/framing/framer.go
// License: Apache-2.0
//
// Incremental HTTP/1.x message framing for the recv path. The framer only
// decides where a message ends; turning the bytes into a request or response
// value is left to net/http.

package framing

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/net/http/httpguts"
)

// Framing failures. They reach callers wrapped in an api.Error with
// api.CodeProtocol.
var (
	ErrHeaderTooLarge = errors.New("http header too large")
	ErrBodyTooLarge   = errors.New("http body too large")
	ErrMalformed      = errors.New("malformed http message")
	ErrUnsupported    = errors.New("unsupported transfer encoding")
)

var headerTerminator = []byte("\r\n\r\n")

// Direction is declared up front: servers frame requests, clients responses.
type Direction int

const (
	Request Direction = iota
	Response
)

func (d Direction) String() string {
	if d == Response {
		return "response"
	}
	return "request"
}

// Ceilings applied when a limit is zero or larger than the ceiling.
const (
	MaxHeaderCeiling = 1 << 20
	MaxBodyCeiling   = 256 << 20
)

// Limits bounds header and body sizes; zero selects the package ceiling.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int
}

// Framer tracks progress through one message. Bytes already scanned for the
// header terminator are never scanned again.
type Framer struct {
	dir    Direction
	limits Limits

	scanned   int
	headerEnd int
	bodyLen   int
}

// New returns a Framer for messages travelling in dir.
func New(dir Direction, limits Limits) *Framer {
	return &Framer{dir: dir, limits: limits.clamp()}
}

func (l Limits) clamp() Limits {
	if l.MaxHeaderBytes <= 0 || l.MaxHeaderBytes > MaxHeaderCeiling {
		l.MaxHeaderBytes = MaxHeaderCeiling
	}
	if l.MaxBodyBytes <= 0 || l.MaxBodyBytes > MaxBodyCeiling {
		l.MaxBodyBytes = MaxBodyCeiling
	}
	return l
}

// Direction returns the declared direction.
func (f *Framer) Direction() Direction { return f.dir }

// Reset prepares the framer for the next message on the same connection.
func (f *Framer) Reset() {
	f.scanned = 0
	f.headerEnd = 0
	f.bodyLen = 0
}

// HeaderDone reports whether the header block has been located.
func (f *Framer) HeaderDone() bool { return f.headerEnd > 0 }

// Need returns the total message length once the header is parsed, 0 before.
func (f *Framer) Need() int {
	if f.headerEnd == 0 {
		return 0
	}
	return f.headerEnd + f.bodyLen
}

// Feed inspects the bytes accumulated since the message started. It returns
// the full message length once every byte is present and 0 while more are
// needed. buf must only ever grow between calls until Reset.
func (f *Framer) Feed(buf []byte) (int, error) {
	if f.headerEnd == 0 {
		start := f.scanned - (len(headerTerminator) - 1)
		if start < 0 {
			start = 0
		}
		idx := bytes.Index(buf[start:], headerTerminator)
		if idx < 0 {
			f.scanned = len(buf)
			if len(buf) > f.limits.MaxHeaderBytes {
				return 0, protocolError(ErrHeaderTooLarge, len(buf))
			}
			return 0, nil
		}
		end := start + idx + len(headerTerminator)
		if end > f.limits.MaxHeaderBytes {
			return 0, protocolError(ErrHeaderTooLarge, end)
		}
		bodyLen, err := f.parseHeader(buf[:end])
		if err != nil {
			return 0, err
		}
		if bodyLen > f.limits.MaxBodyBytes {
			return 0, protocolError(ErrBodyTooLarge, bodyLen)
		}
		f.headerEnd, f.bodyLen, f.scanned = end, bodyLen, end
	}
	if total := f.headerEnd + f.bodyLen; len(buf) >= total {
		return total, nil
	}
	return 0, nil
}

// parseHeader validates the start line against the declared direction and
// extracts the body length.
func (f *Framer) parseHeader(block []byte) (int, error) {
	lines := strings.Split(string(block[:len(block)-len(headerTerminator)]), "\r\n")
	if err := f.checkStartLine(lines[0]); err != nil {
		return 0, err
	}
	bodyLen := -1
	for _, line := range lines[1:] {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return 0, protocolError(ErrMalformed, line)
		}
		name := line[:colon]
		if !httpguts.ValidHeaderFieldName(name) {
			return 0, protocolError(ErrMalformed, name)
		}
		value := strings.TrimSpace(line[colon+1:])
		switch {
		case strings.EqualFold(name, "Content-Length"):
			n, err := strconv.ParseInt(value, 10, 64)
			if errors.Is(err, strconv.ErrRange) {
				return 0, protocolError(ErrBodyTooLarge, value)
			}
			if err != nil || n < 0 {
				return 0, protocolError(ErrMalformed, line)
			}
			if n > int64(f.limits.MaxBodyBytes) {
				return 0, protocolError(ErrBodyTooLarge, n)
			}
			if bodyLen >= 0 && int(n) != bodyLen {
				return 0, protocolError(ErrMalformed, "conflicting Content-Length")
			}
			bodyLen = int(n)
		case strings.EqualFold(name, "Transfer-Encoding"):
			if !strings.EqualFold(value, "identity") {
				return 0, protocolError(ErrUnsupported, value)
			}
		}
	}
	if bodyLen < 0 {
		bodyLen = 0
	}
	return bodyLen, nil
}

func (f *Framer) checkStartLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	switch f.dir {
	case Response:
		if len(parts) < 2 || !isProto(parts[0]) || !isStatus(parts[1]) {
			return protocolError(ErrMalformed, line)
		}
	default:
		if len(parts) != 3 || !httpguts.ValidHeaderFieldName(parts[0]) || parts[1] == "" || !isProto(parts[2]) {
			return protocolError(ErrMalformed, line)
		}
	}
	return nil
}

func isProto(s string) bool {
	if !strings.HasPrefix(s, "HTTP/") {
		return false
	}
	v := s[len("HTTP/"):]
	return len(v) == 3 && isDigit(v[0]) && v[1] == '.' && isDigit(v[2])
}

func isStatus(s string) bool {
	return len(s) == 3 && isDigit(s[0]) && isDigit(s[1]) && isDigit(s[2])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func protocolError(cause error, detail any) error {
	return api.Wrap(api.CodeProtocol, "http framing", cause).WithContext("detail", detail)
}
