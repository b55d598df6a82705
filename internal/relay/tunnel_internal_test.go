package relay

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTunnel(t *testing.T) {
	clientPeer, client := net.Pipe()
	upstreamPeer, upstream := net.Pipe()

	done := make(chan tunnelResult, 1)
	go func() {
		clientReader := io.MultiReader(strings.NewReader("early"), client)
		done <- tunnel(client, clientReader, upstream, 0)
	}()

	readN := func(c net.Conn, n int) (s string) {
		buf := make([]byte, n)
		_, err := io.ReadFull(c, buf)
		require.NoError(t, err)

		return string(buf)
	}

	assert.Equal(t, "early", readN(upstreamPeer, 5))

	_, err := clientPeer.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", readN(upstreamPeer, 3))

	_, err = upstreamPeer.Write([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", readN(clientPeer, 3))

	// Closing one side ends the tunnel and closes the other side.
	require.NoError(t, upstreamPeer.Close())

	var res tunnelResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tunnel did not finish")
	}

	assert.NoError(t, res.err)
	assert.EqualValues(t, 8, res.sent)
	assert.EqualValues(t, 3, res.received)

	_, err = clientPeer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestIdleReader(t *testing.T) {
	peer, conn := net.Pipe()
	t.Cleanup(func() {
		_ = peer.Close()
		_ = conn.Close()
	})

	act := &activity{}
	act.touch()

	r := &idleReader{Reader: conn, conn: conn, act: act, timeout: 100 * time.Millisecond}

	// Activity in the other direction keeps the reader waiting.
	go func() {
		for range 3 {
			time.Sleep(50 * time.Millisecond)
			act.touch()
		}

		time.Sleep(50 * time.Millisecond)
		_, _ = peer.Write([]byte("x"))
	}()

	buf := make([]byte, 1)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Without any activity the read times out.
	start := time.Now()
	_, err = r.Read(buf)
	require.ErrorIs(t, err, ErrIdleTimeout)
	require.True(t, isTimeout(err))
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
