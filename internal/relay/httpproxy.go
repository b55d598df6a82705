package relay

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"golang.org/x/net/proxy"
)

// maxProxyErrorBody is the maximum number of bytes of the upstream proxy's
// error response body included into the error.
const maxProxyErrorBody = 512

func init() {
	proxy.RegisterDialerType("http", newConnectDialer)
}

// connectDialer dials addresses through an HTTP proxy using CONNECT requests.
type connectDialer struct {
	forward   proxy.Dialer
	proxyAddr string
	user      *url.Userinfo
}

// type check
var _ proxy.ContextDialer = (*connectDialer)(nil)

// newConnectDialer creates a new *connectDialer for the proxy at u.  It has
// the signature required by [proxy.RegisterDialerType].
func newConnectDialer(u *url.URL, forward proxy.Dialer) (d proxy.Dialer, err error) {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}

	return &connectDialer{
		forward:   forward,
		proxyAddr: host,
		user:      u.User,
	}, nil
}

// Dial implements the proxy.Dialer interface for *connectDialer.
func (d *connectDialer) Dial(network, addr string) (conn net.Conn, err error) {
	return d.DialContext(context.Background(), network, addr)
}

// DialContext implements the proxy.ContextDialer interface for
// *connectDialer.
func (d *connectDialer) DialContext(
	ctx context.Context,
	network string,
	addr string,
) (conn net.Conn, err error) {
	if cd, ok := d.forward.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, d.proxyAddr)
	} else {
		conn, err = d.forward.Dial(network, d.proxyAddr)
	}

	if err != nil {
		return nil, fmt.Errorf("connecting to proxy %s: %w", d.proxyAddr, err)
	}

	// Unblock the exchange below if the context is canceled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn, err = d.connect(conn, addr)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", d.proxyAddr, err)
	}

	return conn, nil
}

// connect sends the CONNECT request for addr over conn and reads the proxy's
// response.  conn is closed on error.
func (d *connectDialer) connect(conn net.Conn, addr string) (tunnel net.Conn, err error) {
	defer func() {
		if err != nil {
			log.OnCloserError(conn, log.DEBUG)
		}
	}()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: http.Header{},
	}

	if d.user != nil {
		pass, _ := d.user.Password()
		creds := base64.StdEncoding.EncodeToString([]byte(d.user.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}

	if err = req.Write(conn); err != nil {
		return nil, fmt.Errorf("writing connect request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("reading connect response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProxyErrorBody))

		return nil, fmt.Errorf("%w: %s: %q", errProxyRefused, resp.Status, body)
	}

	// The body of a successful response is the tunnel itself, so it is left
	// unread.  Keep whatever the proxy sent after the response headers.
	return &bufferedConn{Conn: conn, r: br}, nil
}

// errProxyRefused is returned when the upstream proxy does not respond to the
// CONNECT request with 200.
const errProxyRefused errors.Error = "proxy refused connection"

// bufferedConn is a net.Conn whose reads go through a buffered reader that may
// already contain data read from the connection.
type bufferedConn struct {
	net.Conn

	r *bufio.Reader
}

// Read implements the net.Conn interface for *bufferedConn.
func (c *bufferedConn) Read(p []byte) (n int, err error) {
	return c.r.Read(p)
}
