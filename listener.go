package dynvoke

import (
	"net"
	"sync"
	"sync/atomic"
)

// trackingListener counts accepted connections until they are closed.
// A connection is counted before Accept returns it, so it is in flight
// before the server schedules any work for it.
type trackingListener struct {
	net.Listener
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
	active    atomic.Int64
}

func newTrackingListener(ln net.Listener) *trackingListener {
	return &trackingListener{Listener: ln}
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		c.Close()
		return nil, net.ErrClosed
	}
	l.wg.Add(1)
	l.active.Add(1)
	l.mu.Unlock()
	return &trackedConn{Conn: c, l: l}, nil
}

// Close releases the underlying listener once. Later calls return the first result.
func (l *trackingListener) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.closeErr = l.Listener.Close()
	})
	return l.closeErr
}

// wait blocks until every accepted connection is closed.
// Call it only after Close so the count cannot grow.
func (l *trackingListener) wait() {
	l.wg.Wait()
}

type trackedConn struct {
	net.Conn
	l    *trackingListener
	once sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() {
		c.l.active.Add(-1)
		c.l.wg.Done()
	})
	return err
}
