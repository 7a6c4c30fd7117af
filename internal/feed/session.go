package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"clobbook/internal/registry"
)

// State is one point in FeedSession's connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Subscribing
	Live
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// BackoffPolicy bounds the exponential reconnect delay: initial 1s,
// cap 30s, jitter ±20% by default.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// DefaultBackoff is the standard reconnect policy for a feed session.
var DefaultBackoff = BackoffPolicy{Initial: time.Second, Max: 30 * time.Second, Jitter: 0.2}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > p.Max {
			d = p.Max
			break
		}
	}
	jitter := 1 + (rand.Float64()*2-1)*p.Jitter
	return time.Duration(float64(d) * jitter)
}

type subscription struct {
	symbol   string
	channels []string
}

// Session owns one logical feed subscription lifetime, possibly spanning
// many transport reconnects. It re-subscribes transparently on reconnect
// and clears every affected book first, so the ground truth always comes
// from the next snapshot.
type Session struct {
	id        string
	transport Transport
	reg       *registry.Registry
	norm      *Normalizer
	log       *zap.Logger
	feedLog   *zap.Logger

	idleTimeout time.Duration
	backoff     BackoffPolicy
	sendLimiter *rate.Limiter

	mu            sync.Mutex
	state         State
	subscriptions map[string]*subscription
	conn          Conn

	closeCh  chan struct{}
	closedWG sync.WaitGroup
	closed   bool

	resyncCh chan struct{}

	// OnReconnect, if set, is invoked every time the session drops its
	// connection and starts a fresh backoff/reconnect cycle.
	OnReconnect func()
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithIdleTimeout overrides the default 10s heartbeat idle window.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) { s.idleTimeout = d }
}

// WithBackoff overrides the default reconnect backoff policy.
func WithBackoff(p BackoffPolicy) Option {
	return func(s *Session) { s.backoff = p }
}

// WithSendRateLimit bounds outbound subscribe/unsubscribe messages per
// second, guarding against a resubscription storm across many symbols.
func WithSendRateLimit(perSecond float64, burst int) Option {
	return func(s *Session) { s.sendLimiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewSession builds a session that dials transport and feeds parsed frames
// into norm, whose registry reg owns the per-symbol books.
func NewSession(transport Transport, reg *registry.Registry, norm *Normalizer, log, feedLog *zap.Logger, opts ...Option) *Session {
	s := &Session{
		id:            uuid.NewString(),
		transport:     transport,
		reg:           reg,
		norm:          norm,
		log:           log,
		feedLog:       feedLog,
		idleTimeout:   10 * time.Second,
		backoff:       DefaultBackoff,
		sendLimiter:   rate.NewLimiter(rate.Limit(20), 20),
		subscriptions: make(map[string]*subscription),
		state:         Disconnected,
		closeCh:       make(chan struct{}),
		resyncCh:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	norm.OnHeartbeat = func(productID string) {
		s.feedLog.Debug("heartbeat", zap.String("session", s.id), zap.String("symbol", productID))
	}
	norm.ForceResync = func(productID, reason string) {
		select {
		case s.resyncCh <- struct{}{}:
		default:
		}
	}
	return s
}

// ID is the session's correlation id, stamped on every log line.
func (s *Session) ID() string { return s.id }

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Info("session state transition", zap.String("session", s.id), zap.String("state", st.String()))
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe adds (symbol, channels) to the tracked subscription set,
// creates its book, and — if already live — sends the subscribe message
// immediately. Reconnects transparently resend every tracked subscription.
func (s *Session) Subscribe(symbol string, channels []string) {
	s.mu.Lock()
	s.subscriptions[symbol] = &subscription{symbol: symbol, channels: channels}
	live := s.state == Live
	conn := s.conn
	s.mu.Unlock()

	s.reg.Subscribe(symbol)
	if live && conn != nil {
		s.send(conn, subscribeMsg{Type: "subscribe", ProductIDs: []string{symbol}, Channels: channels})
	}
}

// Unsubscribe removes symbol from the tracked set, tears down its book, and
// sends the unsubscribe message if currently live.
func (s *Session) Unsubscribe(symbol string) {
	s.mu.Lock()
	sub, tracked := s.subscriptions[symbol]
	delete(s.subscriptions, symbol)
	live := s.state == Live
	conn := s.conn
	s.mu.Unlock()

	s.reg.Unsubscribe(symbol)
	if tracked && live && conn != nil {
		s.send(conn, subscribeMsg{Type: "unsubscribe", ProductIDs: []string{symbol}, Channels: sub.channels})
	}
}

func (s *Session) send(conn Conn, msg subscribeMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sendLimiter.Wait(ctx); err != nil {
		s.log.Warn("send rate limiter wait failed", zap.Error(err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("failed to marshal subscription message", zap.Error(err))
		return
	}
	if err := conn.Write(ctx, data); err != nil {
		s.log.Error("failed to send subscription message", zap.Error(err))
	}
}

// Run drives the session's connect/read/reconnect loop until Close is
// called. It blocks the calling goroutine; callers typically run it in its
// own goroutine.
func (s *Session) Run(ctx context.Context) {
	s.closedWG.Add(1)
	defer s.closedWG.Done()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			s.setState(Closed)
			return
		case <-s.closeCh:
			s.setState(Closed)
			return
		default:
		}

		if err := s.connectAndServe(ctx); err != nil {
			s.log.Warn("feed connection ended", zap.String("session", s.id), zap.Error(err))
		}
		if s.State() == Live {
			attempt = 0
		}

		select {
		case <-ctx.Done():
			s.setState(Closed)
			return
		case <-s.closeCh:
			s.setState(Closed)
			return
		default:
		}

		s.setState(Reconnecting)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
		delay := s.backoff.delay(attempt)
		attempt++
		s.log.Info("reconnecting after backoff", zap.String("session", s.id), zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.setState(Closed)
			return
		case <-s.closeCh:
			s.setState(Closed)
			return
		}
	}
}

// connectAndServe dials once, subscribes, and reads frames until the
// connection drops, the idle timeout elapses, or a resync is requested.
// Run resets the reconnect backoff counter whenever a connection got as far
// as Live.
func (s *Session) connectAndServe(ctx context.Context) error {
	select {
	case <-s.resyncCh:
	default:
	}

	s.setState(Connecting)
	conn, err := s.transport.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close("session ending")

	s.setState(Handshaking)

	s.mu.Lock()
	s.conn = conn
	subs := make([]*subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	// Every book is cleared before resubscription so the incoming snapshot
	// establishes ground truth.
	s.reg.Clear()

	s.setState(Subscribing)
	for _, sub := range subs {
		s.send(conn, subscribeMsg{Type: "subscribe", ProductIDs: []string{sub.symbol}, Channels: sub.channels})
	}

	s.setState(Live)

	for {
		select {
		case <-s.resyncCh:
			return fmt.Errorf("sequence gap resync requested")
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, s.idleTimeout)
		frame, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if readCtx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("heartbeat timeout after %s", s.idleTimeout)
			}
			return fmt.Errorf("read: %w", err)
		}
		s.norm.Process(frame)
	}
}

// Close marks the session for shutdown and joins the run loop. It is
// terminal: a closed session cannot reconnect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	close(s.closeCh)

	var errs error
	if conn != nil {
		if err := conn.Close("client closing"); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	s.closedWG.Wait()
	return errs
}
