package chat

import (
	"context"
	"strings"
	"time"

	"github.com/suPer8Hu/carelink-support/internal/common"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewRepo(db *gorm.DB, timeout time.Duration) *Repo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repo{db: db, timeout: timeout}
}

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Session{}, &Message{}, &Intent{}}
}

// conn bounds every store round trip by the configured timeout.
func (r *Repo) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(cctx), cancel
}

func (r *Repo) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var s Session
	if err := db.Where("session_id = ?", sessionID).First(&s).Error; err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

// Messages returns the session's messages in chronological order. A positive
// limit keeps only the most recent ones.
func (r *Repo) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var msgs []Message
	if limit <= 0 {
		if err := db.Where("session_id = ?", sessionID).Order("id ASC").Find(&msgs).Error; err != nil {
			return nil, classify(err)
		}
		return msgs, nil
	}

	if err := db.Where("session_id = ?", sessionID).Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, classify(err)
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SessionDefaults seed a session created by UpsertAndAppend.
type SessionDefaults struct {
	VisitorID    *uint64
	VisitorEmail string
}

// AppendEffects are applied to the session row in the same transaction as the append.
type AppendEffects struct {
	IncrementUnread      bool
	PromoteNew           bool
	// MarkDefaultReplySent makes the append conditional on the flag being
	// unset; errDefaultReplySent is returned otherwise.
	MarkDefaultReplySent bool
	// Intents derives outbox intents from the updated session; they commit
	// with the message or not at all.
	Intents func(s *Session) []Intent
}

// UpsertAndAppend creates the session if it does not exist, then appends msg.
// The whole operation is one transaction; created reports whether the
// session row was inserted by this call.
func (r *Repo) UpsertAndAppend(ctx context.Context, sessionID string, msg *Message, defaults SessionDefaults, fx AppendEffects) (*Session, bool, error) {
	return r.appendMessage(ctx, sessionID, msg, &defaults, fx)
}

// AppendMessage appends msg to an existing session; ErrNotFound otherwise.
func (r *Repo) AppendMessage(ctx context.Context, sessionID string, msg *Message, fx AppendEffects) (*Session, error) {
	s, _, err := r.appendMessage(ctx, sessionID, msg, nil, fx)
	return s, err
}

func (r *Repo) appendMessage(ctx context.Context, sessionID string, msg *Message, defaults *SessionDefaults, fx AppendEffects) (*Session, bool, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var (
		out     Session
		created bool
	)
	err := db.Transaction(func(tx *gorm.DB) error {
		if msg.SentAt.IsZero() {
			msg.SentAt = time.Now().UTC()
		}

		if defaults != nil {
			seed := Session{
				SessionID:     sessionID,
				VisitorID:     defaults.VisitorID,
				VisitorEmail:  defaults.VisitorEmail,
				Status:        StatusNew,
				Active:        true,
				Priority:      PriorityMedium,
				Tags:          datatypes.JSONSlice[string]{},
				Version:       1,
				LastMessageAt: msg.SentAt,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}},
				DoNothing: true,
			}).Create(&seed)
			if res.Error != nil {
				return res.Error
			}
			created = res.RowsAffected == 1
		}

		updates := map[string]any{
			"last_message_at": msg.SentAt,
			"message_count":   gorm.Expr("message_count + ?", 1),
			"version":         gorm.Expr("version + ?", 1),
		}
		if fx.IncrementUnread {
			updates["unread_count"] = gorm.Expr("unread_count + ?", 1)
		}
		if fx.PromoteNew {
			updates["status"] = gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", string(StatusNew), string(StatusInProgress))
		}
		if fx.MarkDefaultReplySent {
			updates["default_reply_sent"] = true
		}
		// the row update comes first so concurrent appenders queue on its lock
		q := tx.Model(&Session{}).Where("session_id = ?", sessionID)
		if fx.MarkDefaultReplySent {
			q = q.Where("default_reply_sent = ?", false)
		}
		res := q.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if fx.MarkDefaultReplySent {
				var n int64
				if err := tx.Model(&Session{}).Where("session_id = ?", sessionID).Count(&n).Error; err != nil {
					return err
				}
				if n > 0 {
					return errDefaultReplySent
				}
			}
			return ErrNotFound
		}

		msg.ID = 0
		msg.SessionID = sessionID
		msg.TextFolded = strings.ToLower(msg.Text)
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		if err := tx.Where("session_id = ?", sessionID).First(&out).Error; err != nil {
			return err
		}

		if fx.Intents != nil {
			for _, in := range fx.Intents(&out) {
				in := in
				if err := tx.Create(&in).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, classify(err)
	}
	return &out, created, nil
}

// ViewChange reports what MarkViewed altered.
type ViewChange struct {
	Changed  bool
	Promoted bool // new -> in_progress
}

// MarkViewed resets the unread counter and promotes new -> in_progress.
// Sessions with nothing to reset are left untouched, version included.
func (r *Repo) MarkViewed(ctx context.Context, sessionID string) (*Session, ViewChange, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var (
		out Session
		vc  ViewChange
	)
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Session{}).
			Where("session_id = ? AND status = ?", sessionID, string(StatusNew)).
			Updates(map[string]any{
				"status":       string(StatusInProgress),
				"unread_count": 0,
				"version":      gorm.Expr("version + ?", 1),
			})
		if res.Error != nil {
			return res.Error
		}
		vc.Promoted = res.RowsAffected > 0

		if !vc.Promoted {
			res = tx.Model(&Session{}).
				Where("session_id = ? AND unread_count > 0", sessionID).
				Updates(map[string]any{
					"unread_count": 0,
					"version":      gorm.Expr("version + ?", 1),
				})
			if res.Error != nil {
				return res.Error
			}
		}
		vc.Changed = vc.Promoted || res.RowsAffected > 0

		return tx.Where("session_id = ?", sessionID).First(&out).Error
	})
	if err != nil {
		return nil, ViewChange{}, classify(err)
	}
	return &out, vc, nil
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Status        *Status
	Priority      *Priority
	AssignedAdmin *uint64
	Tags          *[]string
}

func (p Patch) empty() bool {
	return p.Status == nil && p.Priority == nil && p.AssignedAdmin == nil && p.Tags == nil
}

func (r *Repo) UpdateFields(ctx context.Context, sessionID string, p Patch) (*Session, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var out Session
	err := db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"version": gorm.Expr("version + ?", 1)}
		if p.Status != nil {
			updates["status"] = string(*p.Status)
			updates["active"] = *p.Status != StatusArchived
		}
		if p.Priority != nil {
			updates["priority"] = string(*p.Priority)
		}
		if p.AssignedAdmin != nil {
			if *p.AssignedAdmin == 0 {
				updates["assigned_admin"] = nil
			} else {
				updates["assigned_admin"] = *p.AssignedAdmin
			}
		}
		if p.Tags != nil {
			updates["tags"] = datatypes.JSONSlice[string](*p.Tags)
		}

		res := tx.Model(&Session{}).Where("session_id = ?", sessionID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("session_id = ?", sessionID).First(&out).Error
	})
	if err != nil {
		return nil, classify(err)
	}
	return &out, nil
}

func (r *Repo) SoftArchive(ctx context.Context, sessionID string) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&Session{}).Where("session_id = ?", sessionID).Updates(map[string]any{
		"status":  string(StatusArchived),
		"active":  false,
		"version": gorm.Expr("version + ?", 1),
	})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDelete removes the session and its messages. Deleting an absent id is a no-op.
func (r *Repo) HardDelete(ctx context.Context, sessionID string) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", sessionID).Delete(&Session{}).Error
	})
	return classify(err)
}

// Filter selects sessions for Query. Status accepts "", "all", "active"
// (new or in_progress) or a stored status; Priority accepts "", "all" or a priority.
type Filter struct {
	Status   string
	Priority string
	Search   string
}

type SortField string

const (
	SortLastMessageAt SortField = "last_message_at"
	SortCreatedAt     SortField = "created_at"
	SortUnreadCount   SortField = "unread_count"
)

type Sort struct {
	Field SortField
	Asc   bool
}

// ParseSort reads "field" or "-field"; unknown fields fall back to newest activity first.
func ParseSort(raw string) Sort {
	raw = strings.TrimSpace(raw)
	desc := strings.HasPrefix(raw, "-")
	field := SortField(strings.TrimPrefix(raw, "-"))
	switch field {
	case SortLastMessageAt, SortCreatedAt, SortUnreadCount:
		return Sort{Field: field, Asc: !desc}
	}
	return Sort{Field: SortLastMessageAt}
}

func (r *Repo) scoped(db *gorm.DB, f Filter) *gorm.DB {
	q := db.Model(&Session{})

	switch st := strings.TrimSpace(f.Status); st {
	case "", "all":
	case "active":
		q = q.Where("status IN ?", []string{string(StatusNew), string(StatusInProgress)})
	default:
		q = q.Where("status = ?", st)
	}

	switch pr := strings.TrimSpace(f.Priority); pr {
	case "", "all":
	default:
		q = q.Where("priority = ?", pr)
	}

	if search := strings.TrimSpace(f.Search); search != "" {
		// both columns are folded in Go on write; SQL LOWER() is ASCII-only on sqlite
		like := common.ContainsPattern(strings.ToLower(search))
		q = q.Where(
			"(visitor_email LIKE ? ESCAPE '!' OR EXISTS (SELECT 1 FROM support_messages m WHERE m.session_id = support_sessions.session_id AND m.text_folded LIKE ? ESCAPE '!'))",
			like, like,
		)
	}
	return q
}

// Query returns one page of matching sessions and the total match count.
func (r *Repo) Query(ctx context.Context, f Filter, sort Sort, skip, limit int) ([]Session, int64, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var total int64
	if err := r.scoped(db, f).Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	if total == 0 || int64(skip) >= total {
		return []Session{}, total, nil
	}

	if sort.Field == "" {
		sort.Field = SortLastMessageAt
	}
	order := clause.OrderByColumn{Column: clause.Column{Name: string(sort.Field)}, Desc: !sort.Asc}

	var out []Session
	if err := r.scoped(db, f).
		Order(order).
		Order("id DESC").
		Offset(skip).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, 0, classify(err)
	}
	return out, total, nil
}

// Version returns the session's change counter, 0 when it does not exist.
func (r *Repo) Version(ctx context.Context, sessionID string) (int64, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var versions []int64
	if err := db.Model(&Session{}).Where("session_id = ?", sessionID).Limit(1).Pluck("version", &versions).Error; err != nil {
		return 0, classify(err)
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[0], nil
}

type Fingerprint struct {
	TotalCount int64 `json:"total_count"`
	VersionSum int64 `json:"version_sum"`
}

// Fingerprint changes whenever any session is created, mutated or deleted.
func (r *Repo) Fingerprint(ctx context.Context) (Fingerprint, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var fp Fingerprint
	err := db.Model(&Session{}).
		Select("COUNT(*) AS total_count, COALESCE(SUM(version), 0) AS version_sum").
		Scan(&fp).Error
	return fp, classify(err)
}

type statusCount struct {
	Status Status
	N      int64
}

func (r *Repo) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var rows []statusCount
	if err := db.Model(&Session{}).Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := map[Status]int64{StatusNew: 0, StatusInProgress: 0, StatusResolved: 0, StatusArchived: 0}
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// CountHighPriorityLive counts high-priority sessions that are still active.
func (r *Repo) CountHighPriorityLive(ctx context.Context) (int64, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var n int64
	err := r.scoped(db, Filter{Status: "active", Priority: string(PriorityHigh)}).Count(&n).Error
	return n, classify(err)
}

func (r *Repo) CountUnread(ctx context.Context) (int64, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var n int64
	err := db.Model(&Session{}).Where("unread_count > 0").Count(&n).Error
	return n, classify(err)
}
