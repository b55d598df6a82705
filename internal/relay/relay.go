// Package relay implements all the relay logic.
package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/ameshkov/connectgate/internal/metrics"
	"github.com/getsentry/sentry-go"
)

// Server terminates TLS connections from clients, accepts CONNECT requests to
// allowed targets and tunnels traffic to them.
type Server struct {
	started bool
	wg      *sync.WaitGroup

	// ctx is canceled when the server is closed, cancel cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	tlsConfig *tls.Config
	allowList *AllowList
	dialer    *upstreamDialer

	maxRequestSize   int
	handshakeTimeout time.Duration
	readTimeout      time.Duration
	idleTimeout      time.Duration

	listenAddr *net.TCPAddr
	listener   net.Listener

	// lastConnID is the ID of the last accepted connection.
	lastConnID atomic.Uint64

	// mu protects started and listener.
	mu *sync.Mutex
}

// type check.
var _ io.Closer = (*Server)(nil)

// NewServer creates a new instance of *Server.
func NewServer(cfg *Config) (s *Server, err error) {
	if cfg.TLSConfig == nil {
		return nil, errors.Error("no tls config")
	}

	s = &Server{
		wg:               &sync.WaitGroup{},
		mu:               &sync.Mutex{},
		tlsConfig:        cfg.TLSConfig,
		allowList:        cfg.AllowList,
		maxRequestSize:   cfg.MaxRequestSize,
		handshakeTimeout: cfg.HandshakeTimeout,
		readTimeout:      cfg.ReadTimeout,
		idleTimeout:      cfg.IdleTimeout,
		listenAddr: &net.TCPAddr{
			IP:   cfg.ListenAddr.AsSlice(),
			Port: int(cfg.ListenPort),
		},
	}

	s.dialer, err = newUpstreamDialer(cfg.ProxyURL, cfg.Resolver, cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Addr returns the address where the server listens for connections.
func (s *Server) Addr() (addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	return s.listener.Addr()
}

// Start starts the server.
func (s *Server) Start() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info("relay: starting")

	if s.started {
		return fmt.Errorf("server is already started")
	}

	s.listener, err = net.ListenTCP("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.acceptLoop()
	}()

	s.started = true

	log.Info("relay: started, listening on %s", s.listener.Addr())

	return nil
}

// acceptLoop runs the infinite accept loop.  Every accepted connection is
// handled in its own goroutine.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			log.Info("relay: exiting listener loop as it has been closed")

			return
		} else if err != nil {
			log.Debug("relay: accepting: %v", err)

			continue
		}

		id := s.lastConnID.Add(1)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.recoverPanic(id)

			hErr := s.handleConn(id, conn)
			s.logResult(id, conn.RemoteAddr(), hErr)
		}()
	}
}

// recoverPanic recovers a panic in the handler of connection id and reports
// it.  It must be deferred.
func (s *Server) recoverPanic(id uint64) {
	v := recover()
	if v == nil {
		return
	}

	log.Error("relay: [%d] panic: %v", id, v)
	sentry.CurrentHub().Recover(v)
}

// logResult logs and counts the result of handling a connection.
func (s *Server) logResult(id uint64, remote net.Addr, err error) {
	label := outcome(err)
	metrics.RequestsTotal.WithLabelValues(label).Inc()

	switch {
	case err == nil:
		log.Debug("relay: [%d] %s: closed", id, remote)
	case isPolicyOutcome(err):
		log.Info("relay: [%d] %s: %s", id, remote, err)
	default:
		log.Debug("relay: [%d] %s: %s: %s", id, remote, label, err)
	}
}

// connState is a state of the connection pipeline.
type connState uint8

// Connection states in the order they are passed.
const (
	stateAccepted connState = iota
	stateTLSEstablished
	stateRequestRead
	stateAuthorized
	stateUpstreamConnected
	stateRelaying
	stateClosed
)

// String implements the fmt.Stringer interface for connState.
func (st connState) String() (s string) {
	switch st {
	case stateAccepted:
		return "accepted"
	case stateTLSEstablished:
		return "tls_established"
	case stateRequestRead:
		return "request_read"
	case stateAuthorized:
		return "authorized"
	case stateUpstreamConnected:
		return "upstream_connected"
	case stateRelaying:
		return "relaying"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("!bad_state_%d", uint8(st))
	}
}

// connection is the state of a single client connection.  It is owned by the
// goroutine handling it.
type connection struct {
	id       uint64
	state    connState
	raw      net.Conn
	client   *tls.Conn
	upstream net.Conn
}

// setState moves c to the next state.
func (c *connection) setState(st connState) {
	log.Debug("relay: [%d] %s -> %s", c.id, c.state, st)

	c.state = st
}

// close closes all connections owned by c.
func (c *connection) close() {
	if c.upstream != nil {
		log.OnCloserError(c.upstream, log.DEBUG)
	}

	if c.client != nil {
		log.OnCloserError(c.client, log.DEBUG)
	} else {
		log.OnCloserError(c.raw, log.DEBUG)
	}
}

// handleConn runs the connection pipeline: TLS handshake, reading the request,
// authorization, connecting to the upstream and tunneling.  The returned error
// describes the step that failed, the connection is always closed on return.
func (s *Server) handleConn(id uint64, conn net.Conn) (err error) {
	c := &connection{
		id:    id,
		state: stateAccepted,
		raw:   conn,
	}

	log.Debug("relay: [%d] accepting new connection from %s", id, conn.RemoteAddr())

	if addrPort, pErr := netip.ParseAddrPort(conn.RemoteAddr().String()); pErr == nil {
		metrics.ObserveClient(addrPort.Addr())
	}

	// Abort the pipeline at any step once the server is closed.
	stop := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.close()
		c.setState(stateClosed)
	}()

	c.client, err = handshake(s.ctx, conn, s.tlsConfig, s.handshakeTimeout)
	if err != nil {
		return err
	}

	c.setState(stateTLSEstablished)

	rl, rest, err := s.readRequest(c.client)
	if err != nil {
		return err
	}

	c.setState(stateRequestRead)

	log.Debug("relay: [%d] %s %s", id, rl.Method, rl.Target)

	if err = s.authorize(c.client, rl); err != nil {
		return err
	}

	c.setState(stateAuthorized)

	c.upstream, err = s.dialer.dial(s.ctx, rl.Target)
	if err != nil {
		if wErr := writeStatus(c.client, http.StatusBadGateway); wErr != nil {
			log.Debug("relay: [%d] %s", id, wErr)
		}

		return err
	}

	c.setState(stateUpstreamConnected)

	if err = writeStatus(c.client, http.StatusOK); err != nil {
		return err
	}

	c.setState(stateRelaying)

	return s.relay(c, rl.Target, rest)
}

// readRequest reads the request from client within the read timeout.
func (s *Server) readRequest(client *tls.Conn) (rl *RequestLine, rest []byte, err error) {
	if s.readTimeout > 0 {
		if err = client.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return nil, nil, fmt.Errorf("%w: setting read deadline: %w", ErrRead, err)
		}
	}

	rl, rest, err = ReadRequest(client, s.maxRequestSize)
	if err != nil {
		return nil, nil, err
	}

	if err = client.SetReadDeadline(time.Time{}); err != nil {
		return nil, nil, fmt.Errorf("%w: removing read deadline: %w", ErrRead, err)
	}

	return rl, rest, nil
}

// authorize checks the request against the allowed method and the allow-list
// and responds with the corresponding status if the request is denied.
func (s *Server) authorize(client io.Writer, rl *RequestLine) (err error) {
	var code int
	switch {
	case rl.Method != MethodConnect:
		code, err = http.StatusMethodNotAllowed, fmt.Errorf("%w: %q", ErrMethodNotAllowed, rl.Method)
	case !s.allowList.IsPermitted(rl.Target):
		code, err = http.StatusForbidden, fmt.Errorf("%w: %q", ErrForbidden, rl.Target)
	default:
		return nil
	}

	if wErr := writeStatus(client, code); wErr != nil {
		return errors.Join(err, wErr)
	}

	return err
}

// relay tunnels traffic of the established connection c to target.  rest is
// the data the client sent after the request.
func (s *Server) relay(c *connection, target string, rest []byte) (err error) {
	var clientReader io.Reader = c.client
	if len(rest) > 0 {
		clientReader = io.MultiReader(bytes.NewReader(rest), c.client)
	}

	stop := context.AfterFunc(s.ctx, func() { _ = c.upstream.Close() })
	defer stop()

	metrics.TunnelsActive.Inc()
	defer metrics.TunnelsActive.Dec()

	startTime := time.Now()

	log.Debug("relay: [%d] start tunneling %s<->%s", c.id, target, c.raw.RemoteAddr())

	res := tunnel(c.client, clientReader, c.upstream, s.idleTimeout)

	elapsed := time.Since(startTime)

	metrics.BytesReceivedTotal.WithLabelValues(target).Add(float64(res.received))
	metrics.BytesSentTotal.WithLabelValues(target).Add(float64(res.sent))
	metrics.TunnelDuration.Observe(elapsed.Seconds())

	log.Debug(
		"relay: [%d] finished tunneling to %s. received %d, sent %d, elapsed: %v",
		c.id,
		target,
		res.received,
		res.sent,
		elapsed,
	)

	if res.err != nil {
		return fmt.Errorf("%w: %w", ErrRelay, res.err)
	}

	return nil
}

// Close implements the io.Closer interface for *Server.  It stops accepting
// connections, aborts the ones in progress and waits for their handlers to
// exit.
func (s *Server) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info("relay: closing")

	if !s.started {
		return nil
	}

	err = s.listener.Close()
	s.cancel()

	log.Info("relay: waiting until connections stop processing")

	s.wg.Wait()

	s.started = false

	if s.dialer.resolver != nil {
		err = errors.Join(err, s.dialer.resolver.Close())
	}

	log.Info("relay: closed")

	return err
}
