package identity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/suPer8Hu/carelink-support/internal/auth"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"gorm.io/gorm"
)

var (
	// ErrUnauthorized covers every authentication failure; callers must not
	// be able to tell a bad token from a deleted principal.
	ErrUnauthorized       = errors.New("not authorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConflict           = errors.New("account already exists")
	ErrSignupDisabled     = errors.New("admin signup disabled")
	ErrInvalidInput       = errors.New("invalid input")
	ErrVisitorNotFound    = errors.New("visitor not found")
	// ErrUnavailable marks timeouts and connectivity failures of the identity store.
	ErrUnavailable = errors.New("identity store unavailable")
)

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

type Options struct {
	JWTSecret      string
	TokenTTL       time.Duration
	AdminSignupKey string
	Timeout        time.Duration
}

type Service struct {
	db   *gorm.DB
	opts Options
}

func NewService(db *gorm.DB, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Service{db: db, opts: opts}
}

func (s *Service) withTimeout(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	return s.db.WithContext(cctx), cancel
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) RegisterAdmin(ctx context.Context, username, email, password, signupKey string) (*Admin, string, error) {
	if s.opts.AdminSignupKey == "" || signupKey != s.opts.AdminSignupKey {
		return nil, "", ErrSignupDisabled
	}
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" || len(password) < 8 {
		return nil, "", fmt.Errorf("%w: username, email and a password of at least 8 characters are required", ErrInvalidInput)
	}

	db, cancel := s.withTimeout(ctx)
	defer cancel()

	var cnt int64
	if err := db.Model(&Admin{}).Where("email = ? OR username = ?", email, username).Count(&cnt).Error; err != nil {
		return nil, "", classify(err)
	}
	if cnt > 0 {
		return nil, "", ErrConflict
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	admin := &Admin{Username: username, Email: email, PasswordHash: hash, Role: auth.RoleAdmin, IsActive: true}
	if err := db.Create(admin).Error; err != nil {
		return nil, "", classify(err)
	}

	token, err := auth.SignJWT(admin.ID, auth.RoleAdmin, admin.Email, s.opts.JWTSecret, s.opts.TokenTTL)
	if err != nil {
		return nil, "", err
	}
	return admin, token, nil
}

func (s *Service) LoginAdmin(ctx context.Context, email, password string) (*Admin, string, error) {
	db, cancel := s.withTimeout(ctx)
	defer cancel()

	var admin Admin
	if err := db.Where("email = ?", normalizeEmail(email)).First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", classify(err)
	}
	if !admin.IsActive || !auth.CheckPassword(admin.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := auth.SignJWT(admin.ID, auth.RoleAdmin, admin.Email, s.opts.JWTSecret, s.opts.TokenTTL)
	if err != nil {
		return nil, "", err
	}
	return &admin, token, nil
}

func (s *Service) RegisterVisitor(ctx context.Context, name, email, phone, password string) (*Visitor, string, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || len(password) < 8 {
		return nil, "", fmt.Errorf("%w: name, email and a password of at least 8 characters are required", ErrInvalidInput)
	}

	db, cancel := s.withTimeout(ctx)
	defer cancel()

	var cnt int64
	if err := db.Model(&Visitor{}).Where("email = ?", email).Count(&cnt).Error; err != nil {
		return nil, "", classify(err)
	}
	if cnt > 0 {
		return nil, "", ErrConflict
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	v := &Visitor{Name: name, Email: email, Phone: strings.TrimSpace(phone), PasswordHash: hash}
	if err := db.Create(v).Error; err != nil {
		return nil, "", classify(err)
	}

	token, err := auth.SignJWT(v.ID, auth.RoleVisitor, v.Email, s.opts.JWTSecret, s.opts.TokenTTL)
	if err != nil {
		return nil, "", err
	}
	return v, token, nil
}

func (s *Service) LoginVisitor(ctx context.Context, email, password string) (*Visitor, string, error) {
	db, cancel := s.withTimeout(ctx)
	defer cancel()

	var v Visitor
	if err := db.Where("email = ?", normalizeEmail(email)).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", classify(err)
	}
	if !auth.CheckPassword(v.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := auth.SignJWT(v.ID, auth.RoleVisitor, v.Email, s.opts.JWTSecret, s.opts.TokenTTL)
	if err != nil {
		return nil, "", err
	}
	return &v, token, nil
}

// Authenticate verifies a bearer token and confirms its principal still exists.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrUnauthorized
	}
	id, claims, err := auth.ParseJWT(token, s.opts.JWTSecret)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}

	db, cancel := s.withTimeout(ctx)
	defer cancel()

	switch claims.Role {
	case auth.RoleAdmin:
		var admin Admin
		if err := db.Select("id", "email", "is_active").First(&admin, id).Error; err != nil || !admin.IsActive {
			return Principal{}, ErrUnauthorized
		}
		return Principal{ID: admin.ID, Role: auth.RoleAdmin, Email: admin.Email}, nil
	case auth.RoleVisitor:
		var v Visitor
		if err := db.Select("id", "email").First(&v, id).Error; err != nil {
			return Principal{}, ErrUnauthorized
		}
		return Principal{ID: v.ID, Role: auth.RoleVisitor, Email: v.Email}, nil
	}
	return Principal{}, ErrUnauthorized
}

func (s *Service) GetAdmin(ctx context.Context, id uint64) (*Admin, error) {
	db, cancel := s.withTimeout(ctx)
	defer cancel()
	var admin Admin
	if err := db.First(&admin, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, classify(err)
	}
	return &admin, nil
}

func (s *Service) GetVisitor(ctx context.Context, id uint64) (*Visitor, error) {
	db, cancel := s.withTimeout(ctx)
	defer cancel()
	var v Visitor
	if err := db.First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVisitorNotFound
		}
		return nil, classify(err)
	}
	return &v, nil
}

// TouchPresence records that the visitor is chatting on sessionID.
func (s *Service) TouchPresence(ctx context.Context, visitorID uint64, sessionID string, at time.Time) error {
	db, cancel := s.withTimeout(ctx)
	defer cancel()
	res := db.Model(&Visitor{}).Where("id = ?", visitorID).Updates(map[string]any{
		"current_session_id": sessionID,
		"is_online":          true,
		"last_message_at":    at,
	})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVisitorNotFound
	}
	return nil
}

func (s *Service) IncrementUnread(ctx context.Context, visitorID uint64) error {
	db, cancel := s.withTimeout(ctx)
	defer cancel()
	res := db.Model(&Visitor{}).Where("id = ?", visitorID).
		UpdateColumn("unread_message_count", gorm.Expr("unread_message_count + ?", 1))
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVisitorNotFound
	}
	return nil
}

func (s *Service) MarkRead(ctx context.Context, visitorID uint64) error {
	db, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify(db.Model(&Visitor{}).Where("id = ?", visitorID).
		UpdateColumn("unread_message_count", 0).Error)
}

func (s *Service) CountVisitors(ctx context.Context) (int64, error) {
	db, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int64
	err := db.Model(&Visitor{}).Count(&n).Error
	return n, classify(err)
}

// ListVisitors pages through registered visitors, most recently active first.
func (s *Service) ListVisitors(ctx context.Context, search string, page, limit int) ([]Visitor, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	db, cancel := s.withTimeout(ctx)
	defer cancel()

	search = strings.TrimSpace(search)
	scoped := func() *gorm.DB {
		q := db.Model(&Visitor{})
		if search != "" {
			like := common.ContainsPattern(strings.ToLower(search))
			q = q.Where("(LOWER(name) LIKE ? ESCAPE '!' OR email LIKE ? ESCAPE '!')", like, like)
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	if page-1 > math.MaxInt/limit || int64((page-1)*limit) >= total {
		return []Visitor{}, total, nil
	}

	var out []Visitor
	if err := scoped().Order("last_message_at DESC").Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&out).Error; err != nil {
		return nil, 0, classify(err)
	}
	return out, total, nil
}
