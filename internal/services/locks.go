package services

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

// catalogKey guards the set of fiscal year labels.
const catalogKey = "#catalog"

// Locks hands out one exclusive lock per key. Keys are fiscal year IDs plus
// catalogKey. Locks are never freed; there is one per fiscal year ever seen.
type Locks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewLocks() *Locks {
	return &Locks{sems: make(map[string]*semaphore.Weighted)}
}

func (l *Locks) sem(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[key] = s
	}
	return s
}

// Acquire blocks until every key is held and returns the release function.
// Keys are taken in sorted order so overlapping callers cannot deadlock.
func (l *Locks) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]*semaphore.Weighted, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, k := range keys {
		s := l.sem(k)
		if err := s.Acquire(ctx, 1); err != nil {
			release()
			return nil, fmt.Errorf("acquire lock %s: %w", k, err)
		}
		held = append(held, s)
	}
	return release, nil
}

// normalizeKeys returns the sorted, de-duplicated non-empty keys.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
