package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/carelink-support/internal/db/dbtest"
)

type fakeProfiles struct {
	mu       sync.Mutex
	presence map[uint64]string
	unread   map[uint64]int
	fail     bool
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{presence: map[uint64]string{}, unread: map[uint64]int{}}
}

func (f *fakeProfiles) TouchPresence(_ context.Context, visitorID uint64, sessionID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("profile store down")
	}
	f.presence[visitorID] = sessionID
	return nil
}

func (f *fakeProfiles) IncrementUnread(_ context.Context, visitorID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("profile store down")
	}
	f.unread[visitorID]++
	return nil
}

func (f *fakeProfiles) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeProfiles) unreadOf(id uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[id]
}

func (f *fakeProfiles) presenceOf(id uint64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presence[id]
}

type fixedVisitors int64

func (n fixedVisitors) CountVisitors(context.Context) (int64, error) { return int64(n), nil }

type fixture struct {
	repo     *Repo
	relay    *Relay
	profiles *fakeProfiles
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, Models()...)
	repo := NewRepo(db, 5*time.Second)
	profiles := newFakeProfiles()
	relay := NewRelay(repo, profiles, zerolog.Nop())
	svc := NewService(repo, Options{
		Dispatcher: NewInlineDispatcher(relay, time.Second),
		Visitors:   fixedVisitors(7),
		Log:        zerolog.Nop(),
	})
	return &fixture{repo: repo, relay: relay, profiles: profiles, svc: svc}
}

func strPtr(s string) *string { return &s }

func u64Ptr(v uint64) *uint64 { return &v }
