package gateway

import (
	"context"
	"sync"
	"time"
)

// ─── Replica Session ────────────────────────────────────────────────────────
// The remote assistant lives behind a replica. The handle is established
// lazily on first use, then shared read-only by every caller;
// re-initialization swaps in a new handle rather than mutating the old
// one in place.

// Session is the established remote replica handle.
type Session struct {
	ReplicaID     string
	EstablishedAt time.Time
}

type sessionHolder struct {
	mu      sync.Mutex
	current *Session
}

// Session returns the replica session, establishing it on first call.
// Concurrent callers during establishment serialize; all observe the
// same handle.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.sess.mu.Lock()
	defer c.sess.mu.Unlock()

	if c.sess.current != nil {
		return c.sess.current, nil
	}
	return c.establishLocked(ctx)
}

// Reinitialize discards the current handle and establishes a fresh
// replica. Callers holding the old handle keep a stale but immutable
// value; new calls observe the new one.
func (c *Client) Reinitialize(ctx context.Context) (*Session, error) {
	c.sess.mu.Lock()
	defer c.sess.mu.Unlock()

	c.sess.current = nil
	return c.establishLocked(ctx)
}

// establishLocked creates the remote replica. Caller holds sess.mu.
func (c *Client) establishLocked(ctx context.Context) (*Session, error) {
	id, err := c.CreateReplica(ctx, c.cfg.ReplicaName)
	if err != nil {
		return nil, err
	}
	c.sess.current = &Session{ReplicaID: id, EstablishedAt: time.Now()}
	return c.sess.current, nil
}
