package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"github.com/suPer8Hu/carelink-support/internal/metrics"
	"gorm.io/gorm"
)

type IntentKind string

const (
	IntentVisitorPresence IntentKind = "visitor_presence"
	IntentVisitorUnread   IntentKind = "visitor_unread"
)

type IntentState string

const (
	IntentPending IntentState = "pending"
	IntentDone    IntentState = "done"
	IntentFailed  IntentState = "failed"
)

// Intent is a side effect on a registered visitor's profile, recorded in the
// same transaction as the message that caused it and applied afterwards.
type Intent struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	Kind       IntentKind  `gorm:"type:varchar(32);not null"`
	VisitorID  uint64      `gorm:"index;not null"`
	SessionID  string      `gorm:"type:varchar(64);not null"`
	OccurredAt time.Time   `gorm:"not null"`
	State      IntentState `gorm:"type:varchar(16);index;not null"`
	Attempts   int         `gorm:"not null;default:0"`

	// Filled when failed
	LastError *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (Intent) TableName() string { return "support_outbox" }

func newIntent(kind IntentKind, visitorID uint64, sessionID string, at time.Time) Intent {
	id, err := common.NewULID()
	if err != nil {
		// crypto/rand failure; fall back to a time-derived id so the primary write is not blocked
		id = fmt.Sprintf("%026d", at.UnixNano())
	}
	return Intent{ID: id, Kind: kind, VisitorID: visitorID, SessionID: sessionID, OccurredAt: at, State: IntentPending}
}

// VisitorProfiles is the identity collaborator surface the outbox writes to.
type VisitorProfiles interface {
	TouchPresence(ctx context.Context, visitorID uint64, sessionID string, at time.Time) error
	IncrementUnread(ctx context.Context, visitorID uint64) error
}

// Dispatcher hands committed intents to whatever applies them.
type Dispatcher interface {
	Dispatch(ctx context.Context, intents []Intent) error
}

func (r *Repo) GetIntent(ctx context.Context, id string) (*Intent, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	var in Intent
	if err := db.First(&in, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("intent %s: %w", id, classify(err))
	}
	return &in, nil
}

func (r *Repo) MarkIntentDone(ctx context.Context, id string) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	return db.Model(&Intent{}).Where("id = ?", id).Updates(map[string]any{
		"state":      IntentDone,
		"attempts":   gorm.Expr("attempts + ?", 1),
		"last_error": nil,
	}).Error
}

func (r *Repo) MarkIntentFailed(ctx context.Context, id string, errMsg string) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	return db.Model(&Intent{}).Where("id = ?", id).Updates(map[string]any{
		"state":      IntentFailed,
		"attempts":   gorm.Expr("attempts + ?", 1),
		"last_error": errMsg,
	}).Error
}

// DueIntents lists intents not yet applied that were last touched before
// `before` and still have attempts left.
func (r *Repo) DueIntents(ctx context.Context, before time.Time, maxAttempts, limit int) ([]Intent, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	var out []Intent
	err := db.Where("state IN ? AND updated_at < ? AND attempts < ?",
		[]IntentState{IntentPending, IntentFailed}, before, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, classify(err)
}

// Relay applies intents to visitor profiles and records the outcome.
type Relay struct {
	repo     *Repo
	profiles VisitorProfiles
	log      zerolog.Logger
}

func NewRelay(repo *Repo, profiles VisitorProfiles, log zerolog.Logger) *Relay {
	return &Relay{repo: repo, profiles: profiles, log: log}
}

// Apply applies one intent. Already-applied intents are skipped, so
// redelivery is harmless for presence and at-most-once for unread counters.
func (rl *Relay) Apply(ctx context.Context, id string) error {
	in, err := rl.repo.GetIntent(ctx, id)
	if err != nil {
		return err
	}
	if in.State == IntentDone {
		return nil
	}

	switch in.Kind {
	case IntentVisitorPresence:
		err = rl.profiles.TouchPresence(ctx, in.VisitorID, in.SessionID, in.OccurredAt)
	case IntentVisitorUnread:
		err = rl.profiles.IncrementUnread(ctx, in.VisitorID)
	default:
		err = fmt.Errorf("unknown intent kind %q", in.Kind)
	}

	if err != nil {
		metrics.OutboxDispatch.WithLabelValues(string(in.Kind), "failed").Inc()
		if markErr := rl.repo.MarkIntentFailed(ctx, id, err.Error()); markErr != nil {
			rl.log.Error().Err(markErr).Str("intent_id", id).Msg("record intent failure")
		}
		return err
	}

	metrics.OutboxDispatch.WithLabelValues(string(in.Kind), "applied").Inc()
	return rl.repo.MarkIntentDone(ctx, id)
}

// Sweep re-dispatches intents that were never applied, e.g. because the
// broker was down when their message committed.
func (rl *Relay) Sweep(ctx context.Context, d Dispatcher, olderThan time.Duration, maxAttempts int) (int, error) {
	due, err := rl.repo.DueIntents(ctx, time.Now().Add(-olderThan), maxAttempts, 200)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}
	if err := d.Dispatch(ctx, due); err != nil {
		return 0, err
	}
	return len(due), nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (rl *Relay) RunSweeper(ctx context.Context, d Dispatcher, interval time.Duration, maxAttempts int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rl.Sweep(ctx, d, interval, maxAttempts)
			if err != nil {
				rl.log.Warn().Err(err).Msg("outbox sweep failed")
				continue
			}
			if n > 0 {
				rl.log.Info().Int("intents", n).Msg("outbox sweep re-dispatched")
			}
		}
	}
}

// InlineDispatcher applies intents in-process right after commit. Used when
// no broker is configured.
type InlineDispatcher struct {
	relay   *Relay
	timeout time.Duration
}

func NewInlineDispatcher(relay *Relay, timeout time.Duration) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &InlineDispatcher{relay: relay, timeout: timeout}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, intents []Intent) error {
	// detach from the request: the visitor's response must not cancel the side effect
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var errs []error
	for _, in := range intents {
		if err := d.relay.Apply(cctx, in.ID); err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", in.ID, err))
		}
	}
	return errors.Join(errs...)
}
