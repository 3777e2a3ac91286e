package pelpool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicandb/pelican/pelconn"
	"github.com/pelicandb/pelican/pelmock"
	"github.com/pelicandb/pelican/pelpool"
)

func startServer(t *testing.T) *pelmock.Server {
	t.Helper()
	srv, err := pelmock.NewServer(nil)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func newPool(t *testing.T, srv *pelmock.Server, extra string) *pelpool.Pool {
	t.Helper()
	config, err := pelconn.ParseConfig(srv.ConnString(extra))
	require.NoError(t, err)
	p, err := pelpool.NewPool(pelpool.PoolConfig{ConnConfig: config})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPoolAcquireRelease(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "")

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, c.PID())

	stat := p.Stat()
	assert.Equal(t, 1, stat.Busy)
	assert.Equal(t, 0, stat.Idle)

	p.Release(c)
	stat = p.Stat()
	assert.Equal(t, 0, stat.Busy)
	assert.Equal(t, 1, stat.Idle)
}

func TestPoolLIFOReuse(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "")

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	pid := c1.PID()
	p.Release(c1)

	// A single-threaded open/close/open cycle gets the hot connector back.
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, pid, c2.PID())
	p.Release(c2)
}

func TestPoolSaturationBlocksUntilRelease(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "MaxPoolSize=1;Timeout=0")

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *pelconn.Connector)
	go func() {
		c, err := p.Acquire(context.Background())
		assert.NoError(t, err)
		acquired <- c
	}()

	// The waiter must not complete while the only connector is out.
	select {
	case <-acquired:
		t.Fatal("second acquire completed while pool was saturated")
	case <-time.After(100 * time.Millisecond):
	}

	p.Release(c1)

	select {
	case c2 := <-acquired:
		// Hand-off: the waiter inherits the same connector.
		assert.Same(t, c1, c2)
		p.Release(c2)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never received the released connector")
	}
}

func TestPoolAcquireTimeout(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "MaxPoolSize=1;Timeout=1")

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	var te *pelpool.AcquireTimeoutError
	assert.ErrorAs(t, err, &te)
	assert.WithinDuration(t, start.Add(time.Second), time.Now(), 900*time.Millisecond)

	// A later acquire after release succeeds.
	p.Release(c1)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c2)
}

func TestPoolTryAcquireExhausted(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "MaxPoolSize=1")

	c1, err := p.TryAcquire(context.Background())
	require.NoError(t, err)

	_, err = p.TryAcquire(context.Background())
	assert.ErrorIs(t, err, pelpool.ErrPoolExhausted)

	p.Release(c1)
}

func TestPoolAccountingUnderConcurrency(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "MaxPoolSize=4;Timeout=10")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c, err := p.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				stat := p.Stat()
				assert.LessOrEqual(t, stat.Busy, 4)
				assert.LessOrEqual(t, stat.Idle+stat.Busy, 4)
				p.Release(c)
			}
		}()
	}
	wg.Wait()

	stat := p.Stat()
	assert.Zero(t, stat.Busy)
	assert.Zero(t, stat.Waiting)
	assert.LessOrEqual(t, stat.Idle, 4)
}

func TestPoolMinSizeFillsInBackground(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "MinPoolSize=3;MaxPoolSize=5")

	require.Eventually(t, func() bool {
		stat := p.Stat()
		return stat.Idle+stat.Busy >= 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPoolReleaseBrokenDestroys(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "")

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	// Sever the transport under the connector, then use it so it breaks.
	srv.Close()
	c.Exec(context.Background(), "SELECT 1")
	require.True(t, c.IsBroken())

	p.Release(c)
	stat := p.Stat()
	assert.Zero(t, stat.Busy)
	assert.Zero(t, stat.Idle, "broken connectors must not be pooled")
}

func TestPoolReleaseResetsSession(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv, err := pelmock.NewServer(func(sql string, params [][]byte, formats []int16) pelmock.Result {
		mu.Lock()
		seen = append(seen, sql)
		mu.Unlock()
		return pelmock.DefaultQuery(sql, params, formats)
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	p := newPool(t, srv, "")
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Exec(context.Background(), "SET search_path=pg_temp"))
	p.Release(c)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "DISCARD ALL", "session settings must not leak to the next borrower")
}

func TestPoolReleaseSkipsResetWhenOptedOut(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv, err := pelmock.NewServer(func(sql string, params [][]byte, formats []int16) pelmock.Result {
		mu.Lock()
		seen = append(seen, sql)
		mu.Unlock()
		return pelmock.DefaultQuery(sql, params, formats)
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	p := newPool(t, srv, "NoResetOnClose=true")
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, seen, "DISCARD ALL")
}

func TestPoolRejectsInvalidSizing(t *testing.T) {
	config := &pelconn.Config{MinPoolSize: 5, MaxPoolSize: 2}
	_, err := pelpool.NewPool(pelpool.PoolConfig{ConnConfig: config})
	require.Error(t, err)

	config = &pelconn.Config{MinPoolSize: 0, MaxPoolSize: pelconn.PoolSizeLimit + 1}
	_, err = pelpool.NewPool(pelpool.PoolConfig{ConnConfig: config})
	require.Error(t, err)
}

func TestPoolManagerGetOrCreate(t *testing.T) {
	srv := startServer(t)
	cs := srv.ConnString("")

	p1, err := pelpool.GetPoolByConnString(cs)
	require.NoError(t, err)
	p2, err := pelpool.GetPoolByConnString(cs)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	other, err := pelpool.GetPoolByConnString(cs + ";MaxPoolSize=3")
	require.NoError(t, err)
	assert.NotSame(t, p1, other)

	pelpool.CloseAll()
}

func TestPoolCloseFailsWaiters(t *testing.T) {
	srv := startServer(t)
	p := newPool(t, srv, "MaxPoolSize=1;Timeout=0")

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()
	time.Sleep(100 * time.Millisecond)

	p.Close()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, pelpool.ErrPoolClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not failed by Close")
	}

	p.Release(c) // returns to a closed pool; the connector is closed
}
