// Package solved keeps the per-profile set of problems the user has solved.
// Membership is monotonic: once a problem is marked solved it is never revoked by the client.
package solved

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"practiceoj/pkg/utils/contextkey"
	"practiceoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// Entry is one solved problem.
type Entry struct {
	ProblemID string    `json:"problemId"`
	SolvedAt  time.Time `json:"solvedAt"`
}

// Store persists solved problem ids across sessions.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Add(ctx context.Context, problemID string) error
}

// Cache is the in-memory solved set backed by an optional Store.
// Store failures are logged and never revoke the in-memory flag.
type Cache struct {
	mu     sync.RWMutex
	solved map[string]time.Time
	store  Store
	now    func() time.Time
}

// New creates an empty cache.
func New(store Store) *Cache {
	return &Cache{
		solved: make(map[string]time.Time),
		store:  store,
		now:    time.Now,
	}
}

// Load merges persisted ids into the cache.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	ids, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := c.solved[id]; !ok {
			c.solved[id] = time.Time{}
		}
	}
	return nil
}

// MarkSolved records a solved problem. It is idempotent.
func (c *Cache) MarkSolved(ctx context.Context, problemID string) {
	if problemID == "" {
		return
	}
	c.mu.Lock()
	if _, ok := c.solved[problemID]; ok {
		c.mu.Unlock()
		return
	}
	c.solved[problemID] = c.now()
	c.mu.Unlock()

	ctx = context.WithValue(ctx, contextkey.ProblemID, problemID)
	logger.Info(ctx, "problem marked solved")
	if c.store == nil {
		return
	}
	if err := c.store.Add(ctx, problemID); err != nil {
		logger.Warn(ctx, "persist solved status failed", zap.Error(err))
	}
}

// IsSolved reports the displayed status, which is local OR server.
func (c *Cache) IsSolved(problemID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.solved[problemID]
	return ok
}

// MergeServerStatus folds the server's authoritative flag into the cache.
// A false server flag never clears a local true.
func (c *Cache) MergeServerStatus(ctx context.Context, problemID string, serverSolved bool) {
	if !serverSolved {
		return
	}
	c.MarkSolved(ctx, problemID)
}

// Entries lists solved problems ordered by id.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.solved))
	for id, at := range c.solved {
		out = append(out, Entry{ProblemID: id, SolvedAt: at})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProblemID < out[j].ProblemID })
	return out
}
