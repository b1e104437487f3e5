package widgetsync

import (
	"context"
	"sync"
	"time"

	"github.com/suPer8Hu/carelink-support/internal/chat"
)

// SessionWatcher is the widget's poll loop: it checks the session version and
// only fetches messages when the version moved.
type SessionWatcher struct {
	Client    *Client
	SessionID string
	Interval  time.Duration
	OnChange  func(msgs []chat.Message)
	OnError   func(err error)

	mu   sync.Mutex
	seen bool
	last int64
}

// Poll runs one check; it reports whether OnChange fired.
func (w *SessionWatcher) Poll(ctx context.Context) (bool, error) {
	v, err := w.Client.Version(ctx, w.SessionID)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	unchanged := w.seen && v == w.last
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	msgs, err := w.Client.Messages(ctx, w.SessionID)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.seen, w.last = true, v
	w.mu.Unlock()

	if w.OnChange != nil {
		w.OnChange(msgs)
	}
	return true, nil
}

func (w *SessionWatcher) Start(ctx context.Context) *Task {
	return Every(ctx, w.Interval, func(ctx context.Context) {
		if _, err := w.Poll(ctx); err != nil && w.OnError != nil && ctx.Err() == nil {
			w.OnError(err)
		}
	})
}

// DashboardWatcher is the admin console's poll loop over the sync fingerprint.
type DashboardWatcher struct {
	Client   *Client
	Token    string
	Query    ListParams
	Interval time.Duration
	OnChange func(page *chat.ListPage)
	OnError  func(err error)

	mu   sync.Mutex
	seen bool
	last chat.Fingerprint
}

func (w *DashboardWatcher) Poll(ctx context.Context) (bool, error) {
	fp, err := w.Client.AdminSync(ctx, w.Token)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	unchanged := w.seen && fp == w.last
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	page, err := w.Client.AdminList(ctx, w.Token, w.Query)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.seen, w.last = true, fp
	w.mu.Unlock()

	if w.OnChange != nil {
		w.OnChange(page)
	}
	return true, nil
}

func (w *DashboardWatcher) Start(ctx context.Context) *Task {
	return Every(ctx, w.Interval, func(ctx context.Context) {
		if _, err := w.Poll(ctx); err != nil && w.OnError != nil && ctx.Err() == nil {
			w.OnError(err)
		}
	})
}
