package relay

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStatus(t *testing.T) {
	testCases := []struct {
		want string
		code int
	}{{
		want: "HTTP/1.1 200 OK\r\n\r\n",
		code: http.StatusOK,
	}, {
		want: "HTTP/1.1 403 Forbidden\r\n\r\n",
		code: http.StatusForbidden,
	}, {
		want: "HTTP/1.1 405 Method Not Allowed\r\n\r\n",
		code: http.StatusMethodNotAllowed,
	}, {
		want: "HTTP/1.1 502 Bad Gateway\r\n\r\n",
		code: http.StatusBadGateway,
	}}

	for _, tc := range testCases {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			buf := &bytes.Buffer{}
			w := bufio.NewWriter(buf)

			err := writeStatus(w, tc.code)
			require.NoError(t, err)

			// The buffered writer must have been flushed.
			assert.Equal(t, tc.want, buf.String())
		})
	}
}

// errWriter is an io.Writer that always fails.
type errWriter struct{}

// Write implements the io.Writer interface for errWriter.
func (errWriter) Write(_ []byte) (n int, err error) { return 0, io.ErrClosedPipe }

func TestWriteStatus_error(t *testing.T) {
	err := writeStatus(errWriter{}, http.StatusOK)
	require.ErrorIs(t, err, ErrResponseWrite)
	require.ErrorIs(t, err, io.ErrClosedPipe)

	// Errors of the buffered writer only appear on flush.
	err = writeStatus(bufio.NewWriter(errWriter{}), http.StatusOK)
	require.ErrorIs(t, err, ErrResponseWrite)
}

func TestOutcome(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{{
		err:  nil,
		want: outcomeOK,
	}, {
		err:  fmt.Errorf("%w: %w", ErrHandshake, io.EOF),
		want: outcomeHandshake,
	}, {
		err:  fmt.Errorf("%w: %w", ErrRead, io.ErrUnexpectedEOF),
		want: outcomeRead,
	}, {
		err:  ErrInvalidUTF8,
		want: outcomeMalformed,
	}, {
		err:  fmt.Errorf("%w: 1 tokens", ErrMalformedRequest),
		want: outcomeMalformed,
	}, {
		err:  ErrRequestTooLarge,
		want: outcomeTooLarge,
	}, {
		err:  ErrMethodNotAllowed,
		want: outcomeMethodNotAllowed,
	}, {
		err:  ErrForbidden,
		want: outcomeForbidden,
	}, {
		err:  ErrUpstreamConnect,
		want: outcomeUpstream,
	}, {
		err:  ErrResponseWrite,
		want: outcomeWrite,
	}, {
		err:  ErrRelay,
		want: outcomeRelay,
	}, {
		err:  fmt.Errorf("%w: %w", ErrRelay, fmt.Errorf("%w: %w", ErrIdleTimeout, os.ErrDeadlineExceeded)),
		want: outcomeIdleTimeout,
	}, {
		err:  io.EOF,
		want: outcomeUnknown,
	}}

	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, outcome(tc.err))
		})
	}

	assert.True(t, isPolicyOutcome(ErrForbidden))
	assert.True(t, isPolicyOutcome(fmt.Errorf("%w: %q", ErrMethodNotAllowed, "GET")))
	assert.False(t, isPolicyOutcome(ErrRelay))
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "accepted", stateAccepted.String())
	assert.Equal(t, "relaying", stateRelaying.String())
	assert.Equal(t, "closed", stateClosed.String())
	assert.Equal(t, "!bad_state_42", connState(42).String())
}
