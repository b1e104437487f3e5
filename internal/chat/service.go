package chat

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/carelink-support/internal/metrics"
)

const (
	MaxMessageLength   = 4000
	maxSessionIDLength = 64
	maxTags            = 20

	defaultPageSize = 20
	maxPageSize     = 100
)

type Options struct {
	Locker     Locker
	Responder  Responder
	Dispatcher Dispatcher
	Visitors   VisitorCounter

	StatsTTL time.Duration
	// MessageViewLimit caps the messages returned by reads; 0 means no cap.
	MessageViewLimit int

	Log zerolog.Logger
}

// Service is the only writer of support sessions.
type Service struct {
	repo       *Repo
	locker     Locker
	responder  Responder
	dispatcher Dispatcher
	visitors   VisitorCounter
	stats      *statsCache
	viewLimit  int
	log        zerolog.Logger
}

func NewService(repo *Repo, opts Options) *Service {
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.Responder == nil {
		opts.Responder = NewKeywordResponder(DefaultRules, DefaultReply)
	}
	return &Service{
		repo:       repo,
		locker:     opts.Locker,
		responder:  opts.Responder,
		dispatcher: opts.Dispatcher,
		visitors:   opts.Visitors,
		stats:      newStatsCache(opts.StatsTTL),
		viewLimit:  opts.MessageViewLimit,
		log:        opts.Log,
	}
}

func (s *Service) lock(ctx context.Context, sessionID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, "support:session:"+sessionID)
	if err != nil {
		return nil, classify(err)
	}
	return unlock, nil
}

// dispatch hands committed intents over. Failures leave them pending for the sweeper.
func (s *Service) dispatch(ctx context.Context, intents []Intent) {
	if len(intents) == 0 || s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, intents); err != nil {
		s.log.Warn().Err(err).Int("intents", len(intents)).Msg("outbox dispatch failed")
	}
}

func normalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", validationf("text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", validationf("text exceeds %d characters", MaxMessageLength)
	}
	return text, nil
}

func normalizeSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", validationf("session id is required")
	}
	if len(id) > maxSessionIDLength {
		return "", validationf("session id exceeds %d characters", maxSessionIDLength)
	}
	return id, nil
}

type VisitorMessage struct {
	SessionID    string
	Text         string
	VisitorID    *uint64
	VisitorEmail string
}

type VisitorReply struct {
	SessionID    string  `json:"session_id"`
	Reply        *string `json:"reply"`
	VisitorID    *uint64 `json:"visitor_id,omitempty"`
	VisitorEmail string  `json:"visitor_email,omitempty"`
}

// PostVisitorMessage records an inbound visitor message, creating the session on
// first contact, and appends at most one automated reply. Only the visitor's
// own message must persist for the call to succeed.
func (s *Service) PostVisitorMessage(ctx context.Context, in VisitorMessage) (*VisitorReply, error) {
	text, err := normalizeText(in.Text)
	if err != nil {
		return nil, err
	}

	sid := strings.TrimSpace(in.SessionID)
	if sid == "" {
		if sid, err = NewSessionID(); err != nil {
			return nil, err
		}
	} else if sid, err = normalizeSessionID(sid); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(in.VisitorEmail))

	unlock, err := s.lock(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer unlock()

	msg := &Message{
		Sender:       SenderVisitor,
		Text:         text,
		VisitorID:    in.VisitorID,
		VisitorEmail: email,
	}
	var intents []Intent
	sess, created, err := s.repo.UpsertAndAppend(ctx, sid, msg,
		SessionDefaults{VisitorID: in.VisitorID, VisitorEmail: email},
		AppendEffects{
			IncrementUnread: true,
			Intents: func(sess *Session) []Intent {
				if in.VisitorID == nil {
					return nil
				}
				intents = []Intent{newIntent(IntentVisitorPresence, *in.VisitorID, sess.SessionID, msg.SentAt)}
				return intents
			},
		})
	if err != nil {
		return nil, err
	}
	metrics.MessagesAppended.WithLabelValues(string(SenderVisitor)).Inc()
	if created {
		metrics.SessionsCreated.Inc()
		s.log.Info().Str("session_id", sid).Msg("support session created")
	}
	s.dispatch(ctx, intents)

	out := &VisitorReply{SessionID: sid, VisitorID: in.VisitorID, VisitorEmail: email}

	reply, ok := s.responder.Respond(ctx, text, defaultSentFlag(sess.DefaultReplySent))
	if !ok {
		return out, nil
	}
	_, err = s.repo.AppendMessage(ctx, sid, &Message{Sender: SenderAutomated, Text: reply}, AppendEffects{
		MarkDefaultReplySent: reply == DefaultReply,
	})
	if errors.Is(err, errDefaultReplySent) {
		// another request for this session already sent it
		return out, nil
	}
	if err != nil {
		// the visitor's message is recorded; answer without a reply
		s.log.Warn().Err(err).Str("session_id", sid).Msg("append automated reply failed")
		return out, nil
	}
	metrics.MessagesAppended.WithLabelValues(string(SenderAutomated)).Inc()
	out.Reply = &reply
	return out, nil
}

// PostAdminReply appends an admin message and moves a new session to in_progress.
func (s *Service) PostAdminReply(ctx context.Context, sessionID, text string, adminID uint64) (*Session, error) {
	sid, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if text, err = normalizeText(text); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer unlock()

	before, err := s.repo.FindBySessionID(ctx, sid)
	if err != nil {
		return nil, err
	}

	msg := &Message{Sender: SenderAdmin, Text: text}
	if adminID != 0 {
		msg.AdminID = &adminID
	}
	var intents []Intent
	sess, err := s.repo.AppendMessage(ctx, sid, msg, AppendEffects{
		PromoteNew: true,
		Intents: func(sess *Session) []Intent {
			if sess.VisitorID == nil {
				return nil
			}
			intents = []Intent{newIntent(IntentVisitorUnread, *sess.VisitorID, sess.SessionID, msg.SentAt)}
			return intents
		},
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesAppended.WithLabelValues(string(SenderAdmin)).Inc()
	if before.Status != sess.Status {
		metrics.StatusTransitions.WithLabelValues(string(sess.Status)).Inc()
	}
	s.dispatch(ctx, intents)
	return sess, nil
}

// ViewSession is the admin "open" action: it clears the unread counter,
// promotes new -> in_progress and returns the messages.
func (s *Service) ViewSession(ctx context.Context, sessionID string) (*Session, []Message, error) {
	sid, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := s.lock(ctx, sid)
	if err != nil {
		return nil, nil, err
	}
	sess, vc, err := s.repo.MarkViewed(ctx, sid)
	unlock()
	if err != nil {
		return nil, nil, err
	}
	if vc.Promoted {
		metrics.StatusTransitions.WithLabelValues(string(StatusInProgress)).Inc()
	}

	msgs, err := s.repo.Messages(ctx, sid, s.viewLimit)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

// StatusUpdate is a partial triage update; nil fields are left as they are.
// AssignedAdmin 0 clears the assignment.
type StatusUpdate struct {
	Status        *string
	Priority      *string
	AssignedAdmin *uint64
	Tags          []string
	SetTags       bool
}

func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		if len(t) > 32 {
			return nil, validationf("tag %q exceeds 32 characters", t)
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, validationf("at most %d tags", maxTags)
	}
	return out, nil
}

func (s *Service) SetStatus(ctx context.Context, sessionID string, u StatusUpdate) (*Session, error) {
	sid, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	var p Patch
	if u.Status != nil {
		st := Status(strings.TrimSpace(*u.Status))
		if !st.Valid() {
			return nil, validationf("invalid status %q", *u.Status)
		}
		p.Status = &st
	}
	if u.Priority != nil {
		pr := Priority(strings.TrimSpace(*u.Priority))
		if !pr.Valid() {
			return nil, validationf("invalid priority %q", *u.Priority)
		}
		p.Priority = &pr
	}
	p.AssignedAdmin = u.AssignedAdmin
	if u.SetTags {
		tags, err := normalizeTags(u.Tags)
		if err != nil {
			return nil, err
		}
		p.Tags = &tags
	}

	if p.empty() {
		return s.repo.FindBySessionID(ctx, sid)
	}

	unlock, err := s.lock(ctx, sid)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.repo.UpdateFields(ctx, sid, p)
	if err != nil {
		return nil, err
	}
	if p.Status != nil {
		metrics.StatusTransitions.WithLabelValues(string(*p.Status)).Inc()
	}
	return sess, nil
}

const (
	ModeArchive = "archive"
	ModeDelete  = "delete"
)

// ArchiveOrDelete soft-archives (NotFound when absent) or hard-deletes
// (absent is a no-op). An empty mode archives.
func (s *Service) ArchiveOrDelete(ctx context.Context, sessionID, mode string) error {
	sid, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeArchive
	}
	if mode != ModeArchive && mode != ModeDelete {
		return validationf("invalid mode %q", mode)
	}

	unlock, err := s.lock(ctx, sid)
	if err != nil {
		return err
	}
	defer unlock()

	if mode == ModeDelete {
		if err := s.repo.HardDelete(ctx, sid); err != nil {
			return err
		}
		s.log.Info().Str("session_id", sid).Msg("support session deleted")
		return nil
	}
	if err := s.repo.SoftArchive(ctx, sid); err != nil {
		return err
	}
	metrics.StatusTransitions.WithLabelValues(string(StatusArchived)).Inc()
	return nil
}

type ListQuery struct {
	Status   string
	Priority string
	Search   string
	Sort     string
	Page     int
	Limit    int
}

type Pagination struct {
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	TotalCount  int64 `json:"total_count"`
	PageSize    int   `json:"page_size"`
}

type ListPage struct {
	Items      []Session  `json:"items"`
	Pagination Pagination `json:"pagination"`
}

func (s *Service) ListSessions(ctx context.Context, q ListQuery) (*ListPage, error) {
	f := Filter{
		Status:   strings.ToLower(strings.TrimSpace(q.Status)),
		Priority: strings.ToLower(strings.TrimSpace(q.Priority)),
		Search:   q.Search,
	}
	switch f.Status {
	case "", "all", "active":
	default:
		if !Status(f.Status).Valid() {
			return nil, validationf("invalid status filter %q", q.Status)
		}
	}
	switch f.Priority {
	case "", "all":
	default:
		if !Priority(f.Priority).Valid() {
			return nil, validationf("invalid priority filter %q", q.Priority)
		}
	}

	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	// huge page numbers must not wrap the offset back into range
	skip := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		skip = (page - 1) * limit
	}

	items, total, err := s.repo.Query(ctx, f, ParseSort(q.Sort), skip, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Session{}
	}
	return &ListPage{
		Items: items,
		Pagination: Pagination{
			CurrentPage: page,
			TotalPages:  int((total + int64(limit) - 1) / int64(limit)),
			TotalCount:  total,
			PageSize:    limit,
		},
	}, nil
}

// ComputeStats may serve a result up to StatsTTL old.
func (s *Service) ComputeStats(ctx context.Context) (Stats, error) {
	if st, ok := s.stats.get(); ok {
		return st, nil
	}
	st, err := s.computeStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.stats.put(st)
	return st, nil
}

// Messages is the public read used by the widget. Unknown sessions yield an empty list.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	sid := strings.TrimSpace(sessionID)
	if sid == "" || len(sid) > maxSessionIDLength {
		return []Message{}, nil
	}
	msgs, err := s.repo.Messages(ctx, sid, s.viewLimit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sid, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return s.repo.FindBySessionID(ctx, sid)
}

// Version is the widget's cheap change check; 0 for unknown sessions.
func (s *Service) Version(ctx context.Context, sessionID string) (int64, error) {
	sid := strings.TrimSpace(sessionID)
	if sid == "" || len(sid) > maxSessionIDLength {
		return 0, nil
	}
	return s.repo.Version(ctx, sid)
}

// Fingerprint is the dashboard's change check over all sessions.
func (s *Service) Fingerprint(ctx context.Context) (Fingerprint, error) {
	return s.repo.Fingerprint(ctx)
}
