package identity

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/carelink-support/internal/auth"
	"github.com/suPer8Hu/carelink-support/internal/db/dbtest"
)

const testSecret = "test-secret"

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := dbtest.Open(t, &Admin{}, &Visitor{})
	return NewService(db, Options{JWTSecret: testSecret, TokenTTL: time.Hour, AdminSignupKey: "let-me-in"})
}

func TestRegisterAdmin_RequiresSignupKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.RegisterAdmin(ctx, "ops", "ops@example.com", "password123", "wrong")
	require.ErrorIs(t, err, ErrSignupDisabled)

	admin, token, err := svc.RegisterAdmin(ctx, "ops", "Ops@Example.com", "password123", "let-me-in")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", admin.Email)
	assert.NotEmpty(t, token)

	_, _, err = svc.RegisterAdmin(ctx, "ops", "other@example.com", "password123", "let-me-in")
	require.ErrorIs(t, err, ErrConflict)
}

func TestLoginAndAuthenticate_Admin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.RegisterAdmin(ctx, "ops", "ops@example.com", "password123", "let-me-in")
	require.NoError(t, err)

	_, _, err = svc.LoginAdmin(ctx, "ops@example.com", "nope-nope")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	admin, token, err := svc.LoginAdmin(ctx, "ops@example.com", "password123")
	require.NoError(t, err)

	p, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, p.ID)
	assert.True(t, p.IsAdmin())

	// deactivated admins lose access with the same uniform error
	require.NoError(t, svc.db.Model(&Admin{}).Where("id = ?", admin.ID).Update("is_active", false).Error)
	_, err = svc.Authenticate(ctx, token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate_UniformFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ghost, err := auth.SignJWT(999, auth.RoleAdmin, "", testSecret, time.Hour)
	require.NoError(t, err)
	forged, err := auth.SignJWT(1, auth.RoleAdmin, "", "other-secret", time.Hour)
	require.NoError(t, err)

	for name, tok := range map[string]string{"missing": "", "garbage": "abc", "ghost": ghost, "forged": forged} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, tok)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestVisitorProfileSideEffects(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	v, token, err := svc.RegisterVisitor(ctx, "Pat", "pat@example.com", "555-0100", "password123")
	require.NoError(t, err)

	p, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleVisitor, p.Role)
	assert.False(t, p.IsAdmin())

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, svc.TouchPresence(ctx, v.ID, "SESSION1", at))
	require.NoError(t, svc.IncrementUnread(ctx, v.ID))
	require.NoError(t, svc.IncrementUnread(ctx, v.ID))

	got, err := svc.GetVisitor(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "SESSION1", got.CurrentSessionID)
	assert.True(t, got.IsOnline)
	assert.Equal(t, 2, got.UnreadMessageCount)
	require.NotNil(t, got.LastMessageAt)

	require.NoError(t, svc.MarkRead(ctx, v.ID))
	got, err = svc.GetVisitor(ctx, v.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadMessageCount)

	require.ErrorIs(t, svc.IncrementUnread(ctx, 12345), ErrVisitorNotFound)
	require.ErrorIs(t, svc.TouchPresence(ctx, 12345, "X", at), ErrVisitorNotFound)
}

func TestListVisitors_SearchAndPaging(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"Alice", "Bob", "Alicia"} {
		_, _, err := svc.RegisterVisitor(ctx, name, name+"@example.com", "", "password123")
		require.NoError(t, err)
	}

	n, err := svc.CountVisitors(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	items, total, err := svc.ListVisitors(ctx, "ALI", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, items, 1)
}

func TestListVisitors_PagingAndWildcards(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, email := range []string{"a_b@example.com", "axb@example.com", "c@example.com"} {
		_, _, err := svc.RegisterVisitor(ctx, "Pat", email, "", "password123")
		require.NoError(t, err)
	}

	items, total, err := svc.ListVisitors(ctx, "a_b", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, "a_b@example.com", items[0].Email)

	for _, page := range []int{2, math.MaxInt / 2, math.MaxInt} {
		items, total, err = svc.ListVisitors(ctx, "", page, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Empty(t, items)
	}
}

func TestStoreFailuresAreUnavailable(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.RegisterVisitor(ctx, "Pat", "pat@example.com", "", "password123")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrConflict)

	_, _, err = svc.LoginVisitor(ctx, "pat@example.com", "password123")
	require.ErrorIs(t, err, ErrUnavailable)

	_, _, err = svc.ListVisitors(ctx, "", 1, 20)
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = svc.CountVisitors(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
}
