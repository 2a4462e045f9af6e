package awssession

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Handle is an immutable view of one materialized stack level. It
// stays usable even after the owning session's stack moves on, the
// addressed identity never changes underneath the holder.
type Handle struct {
	key     uint64
	cfg     aws.Config
	session *Session
}

// Key returns the stack fingerprint of the level this handle
// materializes.
func (h *Handle) Key() uint64 {
	return h.key
}

// Config returns the aws.Config bound to this identity. The config is
// a value, callers may further customize their copy freely.
func (h *Handle) Config() aws.Config {
	return h.cfg
}

func (h *Handle) Region() string {
	return h.cfg.Region
}

// Credentials resolves the current credential snapshot through the
// shared record, refreshing when expired. Anonymous configurations
// yield zero credentials.
func (h *Handle) Credentials(ctx context.Context) (aws.Credentials, error) {
	if h.cfg.Credentials == nil {
		return aws.Credentials{}, nil
	}
	return h.cfg.Credentials.Retrieve(ctx)
}

type localLevel struct {
	key    uint64
	handle *Handle
}

// Local caches materialized handles for a single goroutine. On every
// request the cache is validated against the session stack position
// by position and truncated at the first divergence, then the missing
// suffix is rebuilt outside the session lock. A Local whose session
// stack shrank below its cached depth simply drops the excess levels.
//
// A Local is not safe for concurrent use, hand one to each goroutine.
type Local struct {
	session *Session
	levels  []localLevel
}

// Handle returns the handle for the tail of the session stack,
// reusing every cached level whose fingerprint still matches.
func (l *Local) Handle(ctx context.Context) (*Handle, error) {
	s := l.session

	s.mu.Lock()
	for i := range l.levels {
		if i >= len(s.stack) || l.levels[i].key != s.stack[i].key {
			l.levels = l.levels[:i]
			break
		}
	}
	if len(l.levels) > len(s.stack) {
		l.levels = l.levels[:len(s.stack)]
	}
	pending := s.stackSnapshot(len(l.levels))
	s.mu.Unlock()

	// Build outside the lock so concurrent goroutines assemble their
	// caches independently while the broker deduplicates the remote
	// refresh calls.
	for _, entry := range pending {
		var (
			h   *Handle
			err error
		)
		if len(l.levels) == 0 {
			h, err = s.buildBase(ctx, entry)
		} else {
			h, err = s.buildAssumed(ctx, l.levels[len(l.levels)-1].handle, entry)
		}
		if err != nil {
			return nil, err
		}
		l.levels = append(l.levels, localLevel{key: entry.key, handle: h})
	}

	return l.levels[len(l.levels)-1].handle, nil
}

// Depth reports how many levels this Local currently has
// materialized.
func (l *Local) Depth() int {
	return len(l.levels)
}
