package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultPoolSize is the number of supervised broker connections.
	DefaultPoolSize = 5

	// DefaultRetryInterval is the fixed delay between reconnection
	// attempts. There is no backoff and no attempt limit: a worker that
	// loses its connection redials every interval until it succeeds or
	// the pool closes.
	DefaultRetryInterval = 5 * time.Second
)

// WorkerState is the connection lifecycle state of a single pool worker.
type WorkerState int32

const (
	StateDisconnected WorkerState = iota
	StateConnecting
	StateConnected
)

func (s WorkerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is the view of a broker connection the pool hands to checkouts.
// *amqp.Connection satisfies it; tests substitute fakes via WithDialFunc.
type Conn interface {
	Channel() (*amqp.Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// DialFunc opens one broker connection.
type DialFunc func(url string, cfg amqp.Config) (Conn, error)

func amqpDial(url string, cfg amqp.Config) (Conn, error) {
	return amqp.DialConfig(url, cfg)
}

// Pool is a fixed-size set of independently supervised broker
// connections. A checkout hands one worker's connection to one caller at
// a time; a worker that loses its connection redials on a fixed interval
// without ever failing the pool as a whole.
type Pool struct {
	url           string
	amqpConfig    amqp.Config
	size          int
	retryInterval time.Duration
	dial          DialFunc
	logger        *slog.Logger

	workers []*worker
	free    chan *worker
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the number of supervised connections.
func WithPoolSize(n int) PoolOption {
	return func(p *Pool) {
		p.size = n
	}
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithRetryInterval overrides the fixed reconnect interval.
func WithRetryInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.retryInterval = d
	}
}

// WithAMQPConfig sets the dial configuration: heartbeat, dial timeout,
// client properties.
func WithAMQPConfig(cfg amqp.Config) PoolOption {
	return func(p *Pool) {
		p.amqpConfig = cfg
	}
}

// WithDialFunc replaces the dialer. Tests use it to run the pool against
// fake connections.
func WithDialFunc(dial DialFunc) PoolOption {
	return func(p *Pool) {
		p.dial = dial
	}
}

// NewPool creates a pool of workers connecting to url. Workers do not
// dial until Start is called.
func NewPool(url string, opts ...PoolOption) *Pool {
	p := &Pool{
		url:           url,
		size:          DefaultPoolSize,
		retryInterval: DefaultRetryInterval,
		dial:          amqpDial,
		logger:        slog.Default(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.size < 1 {
		p.size = 1
	}
	p.free = make(chan *worker, p.size)
	return p
}

// Start launches the supervision loops and makes every worker available
// for checkout. Workers connect asynchronously; a checkout that lands on
// a worker before its first dial completes reports ErrNoConnection.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:     fmt.Sprintf("worker-%d", i),
			pool:   p,
			logger: p.logger,
		}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go w.run()
		p.free <- w
	}
	p.logger.Info("connection pool started",
		"size", p.size,
		"url", SanitizeURL(p.url))
}

// CheckoutAndRun hands one pooled connection to fn for the duration of
// the call and returns fn's result. When every worker is checked out it
// blocks until one is returned; the wait is unbounded, so a caller that
// needs a deadline carries one in ctx. A worker whose connection is down
// yields ErrNoConnection without waiting for the redial.
func (p *Pool) CheckoutAndRun(ctx context.Context, fn func(Conn) error) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	select {
	case w := <-p.free:
		defer func() { p.free <- w }()
		return w.use(fn)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}
}

// OpenChannel opens a fresh AMQP channel on a pooled connection. The
// channel outlives the checkout and stays bound to the connection it was
// opened on; when that connection dies the channel dies with it and the
// caller reopens.
func (p *Pool) OpenChannel(ctx context.Context) (*amqp.Channel, error) {
	var ch *amqp.Channel
	err := p.CheckoutAndRun(ctx, func(c Conn) error {
		var chErr error
		ch, chErr = c.Channel()
		return chErr
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// QueueInspect samples a queue's depth and consumer count.
func (p *Pool) QueueInspect(ctx context.Context, queue string) (amqp.Queue, error) {
	var q amqp.Queue
	err := p.CheckoutAndRun(ctx, func(c Conn) error {
		ch, chErr := c.Channel()
		if chErr != nil {
			return chErr
		}
		defer ch.Close()
		q, chErr = ch.QueueInspect(queue)
		return chErr
	})
	return q, err
}

// Ping reports pool liveness: nil when at least one worker holds a live
// connection, ErrNoConnection otherwise. It never blocks on checkouts.
func (p *Pool) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, w := range p.snapshotWorkers() {
		if w.State() == StateConnected {
			return nil
		}
	}
	return ErrNoConnection
}

// WaitConnected blocks until at least one worker is connected, ctx ends
// or the pool closes. Tools use it to fail fast instead of queueing
// checkouts against a dead broker.
func (p *Pool) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.Ping(ctx) == nil {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNoConnection, ctx.Err())
		case <-p.done:
			return ErrPoolClosed
		}
	}
}

// PoolStats is a point-in-time view of worker states.
type PoolStats struct {
	Size      int `json:"size"`
	Connected int `json:"connected"`
}

// Stats counts workers by state.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{Size: p.size}
	for _, w := range p.snapshotWorkers() {
		if w.State() == StateConnected {
			stats.Connected++
		}
	}
	return stats
}

// Close stops every worker and closes their connections. In-flight
// checkouts finish first; later checkouts return ErrPoolClosed. Close is
// idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	p.logger.Info("connection pool closed")
	return nil
}

func (p *Pool) snapshotWorkers() []*worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws := make([]*worker, len(p.workers))
	copy(ws, p.workers)
	return ws
}

// worker owns at most one live connection. Its run loop dials, watches
// the connection and redials after the retry interval, forever; a broker
// outage parks every worker in the dial cycle until the broker returns.
type worker struct {
	id     string
	pool   *Pool
	logger *slog.Logger

	state atomic.Int32

	mu   sync.Mutex // guards conn; held for the whole of a checkout
	conn Conn
}

func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	for {
		select {
		case <-w.pool.done:
			return
		default:
		}

		w.setState(StateConnecting)
		conn, err := w.pool.dial(w.pool.url, w.pool.amqpConfig)
		if err != nil {
			w.setState(StateDisconnected)
			w.logger.Error("broker connection failed",
				"worker", w.id,
				"error", err,
				"retryIn", w.pool.retryInterval)
			if !w.sleepRetry() {
				return
			}
			continue
		}

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		w.setState(StateConnected)
		w.logger.Info("broker connection established", "worker", w.id)

		select {
		case amqpErr := <-notify:
			if amqpErr != nil {
				w.logger.Warn("broker connection lost",
					"worker", w.id,
					"error", amqpErr)
			} else {
				w.logger.Warn("broker connection closed", "worker", w.id)
			}
			w.clearConn(nil)
			w.setState(StateDisconnected)
			if !w.sleepRetry() {
				return
			}
		case <-w.pool.done:
			w.clearConn(conn)
			w.setState(StateDisconnected)
			return
		}
	}
}

// use runs fn with exclusive ownership of the worker's connection. The
// mutex also excludes the supervision loop from replacing the connection
// mid-call.
func (w *worker) use(fn func(Conn) error) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil || w.conn.IsClosed() {
		return ErrNoConnection
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("nervous: panic during checkout: %v", r)
		}
	}()
	return fn(w.conn)
}

// clearConn drops the worker's connection, closing toClose when non-nil.
// Taking the mutex first lets any in-flight checkout finish.
func (w *worker) clearConn(toClose Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if toClose != nil {
		toClose.Close()
	}
	w.conn = nil
}

// sleepRetry waits one retry interval; false means the pool closed.
func (w *worker) sleepRetry() bool {
	select {
	case <-time.After(w.pool.retryInterval):
		return true
	case <-w.pool.done:
		return false
	}
}
