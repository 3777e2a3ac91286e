// Package pelpool pools pelconn connectors per connection string: a LIFO
// idle stack for a warm hot set, bounded waiters with direct hand-off, and
// min/max sizing.
package pelpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pelicandb/pelican/pelconn"
)

// ErrPoolExhausted is returned by TryAcquire when every slot is busy.
var ErrPoolExhausted = errors.New("pelpool: pool exhausted")

// ErrPoolClosed is returned for operations on a closed pool.
var ErrPoolClosed = errors.New("pelpool: pool closed")

// AcquireTimeoutError is returned when a waiter's timeout elapses before a
// connector is released.
type AcquireTimeoutError struct {
	timeout time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("pelpool: acquire timeout after %v: pool exhausted", e.timeout)
}

// Timeout reports true, for callers that test errors for a Timeout() bool
// method as with net.Error. pelconn.Timeout does not recognize this type.
func (e *AcquireTimeoutError) Timeout() bool { return true }

// resetTimeout bounds the session reset performed on Release.
const resetTimeout = 15 * time.Second

// PoolConfig configures a Pool.
type PoolConfig struct {
	ConnConfig *pelconn.Config
	// AfterConnect runs on every new connector before it serves requests.
	AfterConnect func(context.Context, *pelconn.Connector) error
}

type waiter struct {
	ready     chan struct{}
	conn      *pelconn.Connector
	err       error
	cancelled bool
}

// Pool is a set of reusable connectors for one connection string.
//
// Accounting invariants, all under mu: busy counts checked-out plus
// under-construction connectors and never exceeds MaxPoolSize;
// len(idle)+busy never exceeds MaxPoolSize; a waiter completes exactly
// once; a released connector is handed to a waiter, pushed on idle, or
// destroyed.
type Pool struct {
	config       *pelconn.Config
	afterConnect func(context.Context, *pelconn.Connector) error

	mu      sync.Mutex
	idle    []*pelconn.Connector
	waiting []*waiter
	busy    int
	closed  bool
}

// NewPool creates a pool and begins establishing MinPoolSize connectors in
// the background.
func NewPool(config PoolConfig) (*Pool, error) {
	cc := config.ConnConfig
	if cc == nil {
		return nil, errors.New("pelpool: PoolConfig.ConnConfig is required")
	}
	if cc.MaxPoolSize < 1 || cc.MaxPoolSize > pelconn.PoolSizeLimit {
		return nil, fmt.Errorf("pelpool: MaxPoolSize %d outside [1, %d]", cc.MaxPoolSize, pelconn.PoolSizeLimit)
	}
	if cc.MinPoolSize < 0 || cc.MinPoolSize > cc.MaxPoolSize {
		return nil, fmt.Errorf("pelpool: MinPoolSize %d outside [0, MaxPoolSize=%d]", cc.MinPoolSize, cc.MaxPoolSize)
	}

	p := &Pool{
		config:       cc,
		afterConnect: config.AfterConnect,
	}
	if cc.MinPoolSize > 0 {
		go p.fillMin()
	}
	return p, nil
}

// Config returns the pool's connection configuration.
func (p *Pool) Config() *pelconn.Config { return p.config }

func (p *Pool) connect(ctx context.Context) (*pelconn.Connector, error) {
	c, err := pelconn.ConnectConfig(ctx, p.config)
	if err != nil {
		return nil, err
	}
	if p.afterConnect != nil {
		if err := p.afterConnect(ctx, c); err != nil {
			c.Close(ctx)
			return nil, err
		}
	}
	return c, nil
}

// fillMin establishes connectors until the pool holds MinPoolSize of them.
// A connect failure stops the fill; the pool still works on demand.
func (p *Pool) fillMin() {
	for {
		p.mu.Lock()
		if p.closed || len(p.idle)+p.busy >= p.config.MinPoolSize {
			p.mu.Unlock()
			return
		}
		p.busy++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		c, err := p.connect(ctx)
		cancel()

		p.mu.Lock()
		if err != nil {
			p.busy--
			p.mu.Unlock()
			return
		}
		if p.closed {
			p.busy--
			p.mu.Unlock()
			c.Close(context.Background())
			return
		}
		if !p.deliverLocked(c) {
			p.idle = append(p.idle, c)
			p.busy--
		}
		p.mu.Unlock()
	}
}

// Acquire takes exclusive use of a connector until Release. When the pool
// is saturated the caller queues as a waiter; a Release hands its connector
// straight over. The connection string's Timeout bounds the wait (0 waits
// forever); ctx cancels it early.
func (p *Pool) Acquire(ctx context.Context) (*pelconn.Connector, error) {
	if timeout := p.config.AcquireTimeout; timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	// Warm connectors are reused most-recently-released first.
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.busy++
		p.mu.Unlock()
		return c, nil
	}

	if p.busy < p.config.MaxPoolSize {
		p.busy++
		p.mu.Unlock()
		c, err := p.connect(ctx)
		if err != nil {
			p.mu.Lock()
			p.busy--
			p.mu.Unlock()
			return nil, err
		}
		return c, nil
	}

	w := &waiter{ready: make(chan struct{})}
	p.waiting = append(p.waiting, w)
	p.mu.Unlock()

	select {
	case <-w.ready:
		return w.conn, w.err
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-w.ready:
			// The release won the race; take the hand-off.
			p.mu.Unlock()
			return w.conn, w.err
		default:
		}
		w.cancelled = true
		p.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &AcquireTimeoutError{timeout: p.config.AcquireTimeout}
		}
		return nil, ctx.Err()
	}
}

// TryAcquire is the non-blocking variant: it reuses an idle connector or
// opens a new one when a slot is free, and fails with ErrPoolExhausted
// instead of waiting.
func (p *Pool) TryAcquire(ctx context.Context) (*pelconn.Connector, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.busy++
		p.mu.Unlock()
		return c, nil
	}
	if p.busy < p.config.MaxPoolSize {
		p.busy++
		p.mu.Unlock()
		c, err := p.connect(ctx)
		if err != nil {
			p.mu.Lock()
			p.busy--
			p.mu.Unlock()
			return nil, err
		}
		return c, nil
	}
	p.mu.Unlock()
	return nil, ErrPoolExhausted
}

// deliverLocked hands c to the oldest live waiter. The waiter inherits the
// releaser's busy slot, so the count is untouched. Must hold mu.
func (p *Pool) deliverLocked(c *pelconn.Connector) bool {
	for len(p.waiting) > 0 {
		w := p.waiting[0]
		p.waiting = p.waiting[1:]
		if w.cancelled {
			continue
		}
		w.conn = c
		close(w.ready)
		return true
	}
	return false
}

// Release returns a connector to the pool. The session is reset first,
// outside the pool lock, so settings never leak to the next borrower.
// Broken connectors (and those whose reset fails) are destroyed instead of
// pooled.
func (p *Pool) Release(c *pelconn.Connector) {
	if c.IsBroken() {
		p.destroy(c)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	err := c.Reset(ctx)
	cancel()
	if err != nil {
		p.destroy(c)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.busy--
		p.mu.Unlock()
		c.Close(context.Background())
		return
	}
	if p.deliverLocked(c) {
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, c)
	p.busy--
	p.mu.Unlock()
}

// destroy closes c and frees its slot. If a waiter is queued, the freed
// slot goes to it by constructing a replacement connector.
func (p *Pool) destroy(c *pelconn.Connector) {
	go c.Close(context.Background())

	p.mu.Lock()
	var w *waiter
	for len(p.waiting) > 0 {
		cand := p.waiting[0]
		p.waiting = p.waiting[1:]
		if !cand.cancelled {
			w = cand
			break
		}
	}
	if w == nil {
		p.busy--
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		conn, err := p.connect(ctx)
		cancel()

		p.mu.Lock()
		defer p.mu.Unlock()
		if w.cancelled {
			if err == nil {
				if !p.deliverLocked(conn) {
					p.idle = append(p.idle, conn)
					p.busy--
				}
			} else {
				p.busy--
			}
			return
		}
		if err != nil {
			p.busy--
			w.err = err
		} else {
			w.conn = conn
		}
		close(w.ready)
	}()
}

// Stat reports a snapshot of the pool's accounting.
type Stat struct {
	MaxPoolSize int
	Busy        int
	Idle        int
	Waiting     int
}

// Stat returns current pool statistics.
func (p *Pool) Stat() Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stat{
		MaxPoolSize: p.config.MaxPoolSize,
		Busy:        p.busy,
		Idle:        len(p.idle),
		Waiting:     len(p.waiting),
	}
}

// Close shuts the pool: idle connectors are closed, queued waiters fail,
// and releases of outstanding connectors close them on return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	for _, w := range p.waiting {
		if !w.cancelled {
			w.err = ErrPoolClosed
			close(w.ready)
		}
	}
	p.waiting = nil
	p.mu.Unlock()

	for _, c := range idle {
		c.Close(context.Background())
	}
}
