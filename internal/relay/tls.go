package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// NewTLSConfig returns the server-side TLS configuration that terminates
// client connections with the single certificate cert.  Client certificates
// are not requested.
func NewTLSConfig(cert tls.Certificate) (conf *tls.Config) {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}

// handshake performs the server-side TLS handshake on conn.  timeout limits
// the handshake duration unless it is zero.
func handshake(
	ctx context.Context,
	conn net.Conn,
	conf *tls.Config,
	timeout time.Duration,
) (tlsConn *tls.Conn, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tlsConn = tls.Server(conn, conf)
	err = tlsConn.HandshakeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	return tlsConn, nil
}
