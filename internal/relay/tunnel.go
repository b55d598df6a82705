package relay

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
)

// tunnelResult contains the statistics of a finished tunnel.
type tunnelResult struct {
	// received is the number of bytes copied from the upstream to the client.
	received int64

	// sent is the number of bytes copied from the client to the upstream.
	sent int64

	// err is the first I/O error that ended the tunnel, if any.
	err error
}

// tunnel copies data between the client and the upstream in both directions
// until one of them stops, then closes both connections.  clientReader is the
// reader of the client connection that may contain data the client sent
// before the tunnel started.  If idleTimeout is positive, the tunnel is closed
// when neither direction makes progress for that long.
func tunnel(
	client net.Conn,
	clientReader io.Reader,
	upstream net.Conn,
	idleTimeout time.Duration,
) (res tunnelResult) {
	activity := &activity{}
	activity.touch()

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			log.OnCloserError(client, log.DEBUG)
			log.OnCloserError(upstream, log.DEBUG)
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var upErr, downErr error
	go func() {
		defer wg.Done()
		defer closeBoth()

		src := &idleReader{Reader: clientReader, conn: client, timeout: idleTimeout, act: activity}
		res.sent, upErr = copyStream(upstream, src)
	}()
	go func() {
		defer wg.Done()
		defer closeBoth()

		src := &idleReader{Reader: upstream, conn: upstream, timeout: idleTimeout, act: activity}
		res.received, downErr = copyStream(client, src)
	}()

	wg.Wait()

	res.err = errors.Join(upErr, downErr)

	return res
}

// copyStream copies src to dst.  Errors caused by the other direction closing
// the connections are not reported.
func copyStream(dst io.Writer, src io.Reader) (written int64, err error) {
	written, err = io.Copy(dst, src)
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return written, nil
	}

	log.Debug("relay: finished copying due to %v", err)

	return written, err
}

// activity is the time of the last progress made in any direction of a
// tunnel.
type activity struct {
	last atomic.Int64
}

// touch records progress.
func (a *activity) touch() {
	a.last.Store(time.Now().UnixNano())
}

// idleFor returns the time since the last progress.
func (a *activity) idleFor() (d time.Duration) {
	return time.Since(time.Unix(0, a.last.Load()))
}

// idleReader reads from Reader, extending the read deadline of conn before
// every read.  A read that times out while the other direction is still
// active is retried, otherwise the timeout is reported as ErrIdleTimeout.
type idleReader struct {
	io.Reader

	conn    net.Conn
	act     *activity
	timeout time.Duration
}

// type check
var _ io.Reader = (*idleReader)(nil)

// Read implements the io.Reader interface for *idleReader.
func (r *idleReader) Read(p []byte) (n int, err error) {
	if r.timeout <= 0 {
		return r.Reader.Read(p)
	}

	for {
		if err = r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}

		n, err = r.Reader.Read(p)
		if n > 0 {
			r.act.touch()
		}

		if n > 0 || !isTimeout(err) {
			return n, err
		}

		if r.act.idleFor() >= r.timeout {
			return 0, fmt.Errorf("%w: %w", ErrIdleTimeout, err)
		}
	}
}

// isTimeout returns true if err is a network timeout.
func isTimeout(err error) (ok bool) {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
