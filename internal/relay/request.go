package relay

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// DefaultMaxRequestSize is the default maximum number of bytes the client
	// may send before terminating the request.
	DefaultMaxRequestSize = 8192

	// readChunkSize is the size of a single read from the client while the
	// request is being accumulated.
	readChunkSize = 512
)

// MethodConnect is the only method the relay supports.
const MethodConnect = "CONNECT"

// RequestLine is the parsed first line of the client's request.
type RequestLine struct {
	// Method is the request method, e.g. "CONNECT".
	Method string

	// Target is the request target, for CONNECT requests it is the
	// destination authority in the "host:port" form.
	Target string
}

// ReadRequest reads the client's request until the end of its header block
// and parses the request line.  rest contains the bytes the client sent after
// the header block, they belong to the tunneled stream.  maxSize limits the
// number of bytes read before the terminator must be found, if it is not
// positive, [DefaultMaxRequestSize] is used.
func ReadRequest(r io.Reader, maxSize int) (rl *RequestLine, rest []byte, err error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	for {
		end, termLen := headerEnd(buf)
		if end >= 0 {
			rl, err = ParseRequestLine(buf[:end])
			if err != nil {
				return nil, nil, err
			}

			return rl, buf[end+termLen:], nil
		}

		if len(buf) >= maxSize {
			return nil, nil, fmt.Errorf("%w: more than %d bytes", ErrRequestTooLarge, maxSize)
		}

		n, readErr := r.Read(chunk[:min(len(chunk), maxSize-len(buf))])
		buf = append(buf, chunk[:n]...)
		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			if end, termLen = headerEnd(buf); end >= 0 {
				// The terminator arrived together with EOF.
				continue
			}

			readErr = io.ErrUnexpectedEOF
		}

		return nil, nil, fmt.Errorf("%w: %w", ErrRead, readErr)
	}
}

// headerEnd returns the index of the end of the header block in b and the
// length of the terminator.  end is -1 if there is no terminator in b yet.
func headerEnd(b []byte) (end, termLen int) {
	end, termLen = bytes.Index(b, []byte("\r\n\r\n")), 4
	if i := bytes.Index(b, []byte("\n\n")); i >= 0 && (end < 0 || i < end) {
		return i, 2
	}

	if end < 0 {
		return -1, 0
	}

	return end, termLen
}

// ParseRequestLine parses the first line of b.  The line is split on ASCII
// spaces, the first two tokens are the method and the target, everything else
// is ignored.
func ParseRequestLine(b []byte) (rl *RequestLine, err error) {
	if !utf8.Valid(b) {
		return nil, ErrInvalidUTF8
	}

	line, _, _ := strings.Cut(string(b), "\n")
	line = strings.TrimSuffix(line, "\r")

	tokens := make([]string, 0, 2)
	for _, t := range strings.Split(line, " ") {
		if t == "" {
			continue
		}

		tokens = append(tokens, t)
		if len(tokens) == 2 {
			break
		}
	}

	if len(tokens) < 2 {
		return nil, fmt.Errorf("%w: %d tokens in %q", ErrMalformedRequest, len(tokens), line)
	}

	return &RequestLine{
		Method: tokens[0],
		Target: tokens[1],
	}, nil
}
