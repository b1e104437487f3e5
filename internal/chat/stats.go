package chat

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats is the dashboard aggregate. Active counts new + in_progress, the same
// derivation the "active" list filter uses.
type Stats struct {
	CountsByStatus          map[Status]int64 `json:"counts_by_status"`
	Total                   int64            `json:"total"`
	Active                  int64            `json:"active"`
	HighPriority            int64            `json:"high_priority"`
	UnreadSessions          int64            `json:"unread_sessions"`
	TotalRegisteredVisitors int64            `json:"total_registered_visitors"`
}

// VisitorCounter reports the number of registered visitors.
type VisitorCounter interface {
	CountVisitors(ctx context.Context) (int64, error)
}

const statsKey = "stats"

type statsCache struct {
	lru *expirable.LRU[string, Stats]
}

func newStatsCache(ttl time.Duration) *statsCache {
	if ttl <= 0 {
		return nil
	}
	return &statsCache{lru: expirable.NewLRU[string, Stats](1, nil, ttl)}
}

func (c *statsCache) get() (Stats, bool) {
	if c == nil {
		return Stats{}, false
	}
	return c.lru.Get(statsKey)
}

func (c *statsCache) put(s Stats) {
	if c != nil {
		c.lru.Add(statsKey, s)
	}
}

func (s *Service) computeStats(ctx context.Context) (Stats, error) {
	byStatus, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	high, err := s.repo.CountHighPriorityLive(ctx)
	if err != nil {
		return Stats{}, err
	}
	unread, err := s.repo.CountUnread(ctx)
	if err != nil {
		return Stats{}, err
	}

	var visitors int64
	if s.visitors != nil {
		visitors, err = s.visitors.CountVisitors(ctx)
		if err != nil {
			return Stats{}, classify(err)
		}
	}

	st := Stats{
		CountsByStatus:          byStatus,
		HighPriority:            high,
		UnreadSessions:          unread,
		TotalRegisteredVisitors: visitors,
	}
	for status, n := range byStatus {
		st.Total += n
		if status.Live() {
			st.Active += n
		}
	}
	return st, nil
}
