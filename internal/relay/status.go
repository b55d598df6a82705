package relay

import (
	"fmt"
	"io"
	"net/http"
)

// flusher is implemented by buffered writers that need to be flushed for the
// written data to reach the client.
type flusher interface {
	Flush() (err error)
}

// writeStatus writes a status line without headers and body to w and flushes
// it if w is buffered.
func writeStatus(w io.Writer, code int) (err error) {
	_, err = fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n\r\n", code, http.StatusText(code))
	if err != nil {
		return fmt.Errorf("%w: status %d: %w", ErrResponseWrite, code, err)
	}

	if f, ok := w.(flusher); ok {
		if err = f.Flush(); err != nil {
			return fmt.Errorf("%w: flushing status %d: %w", ErrResponseWrite, code, err)
		}
	}

	return nil
}
