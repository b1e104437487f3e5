package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/carelink-support/internal/db/dbtest"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	return NewRepo(dbtest.Open(t, Models()...), 5*time.Second)
}

func TestRepo_UpsertAndAppend(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess, created, err := repo.UpsertAndAppend(ctx, "s1", &Message{Sender: SenderVisitor, Text: "one"},
		SessionDefaults{VisitorEmail: "v@example.com"}, AppendEffects{IncrementUnread: true})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusNew, sess.Status)
	assert.Equal(t, "v@example.com", sess.VisitorEmail)
	assert.Equal(t, 1, sess.MessageCount)
	assert.Equal(t, 1, sess.UnreadCount)

	sess, created, err = repo.UpsertAndAppend(ctx, "s1", &Message{Sender: SenderVisitor, Text: "two"},
		SessionDefaults{VisitorEmail: "other@example.com"}, AppendEffects{IncrementUnread: true})
	require.NoError(t, err)
	assert.False(t, created)
	// defaults only seed new sessions
	assert.Equal(t, "v@example.com", sess.VisitorEmail)
	assert.Equal(t, 2, sess.MessageCount)
	assert.Equal(t, 2, sess.UnreadCount)

	msgs, err := repo.Messages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
	assert.True(t, sess.LastMessageAt.Equal(msgs[1].SentAt))
}

func TestRepo_AppendMessageRequiresSession(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.AppendMessage(context.Background(), "ghost", &Message{Sender: SenderAdmin, Text: "hi"}, AppendEffects{})
	require.ErrorIs(t, err, ErrNotFound)

	msgs, err := repo.Messages(context.Background(), "ghost", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRepo_MessagesKeepsMostRecent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := repo.UpsertAndAppend(ctx, "s1", &Message{Sender: SenderVisitor, Text: fmt.Sprintf("m%d", i)}, SessionDefaults{}, AppendEffects{})
		require.NoError(t, err)
	}

	msgs, err := repo.Messages(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m2", "m3", "m4"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
}

func TestRepo_MarkViewedOnlyWhenNeeded(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.MarkViewed(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = repo.UpsertAndAppend(ctx, "s1", &Message{Sender: SenderVisitor, Text: "x"}, SessionDefaults{}, AppendEffects{IncrementUnread: true})
	require.NoError(t, err)

	sess, vc, err := repo.MarkViewed(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ViewChange{Changed: true, Promoted: true}, vc)
	assert.Equal(t, StatusInProgress, sess.Status)
	assert.Zero(t, sess.UnreadCount)

	again, vc, err := repo.MarkViewed(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ViewChange{}, vc)
	assert.Equal(t, sess.Version, again.Version)
}

func TestRepo_MarkViewedResetsUnreadWithoutPromotion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.UpsertAndAppend(ctx, "s1", &Message{Sender: SenderVisitor, Text: "x"}, SessionDefaults{}, AppendEffects{IncrementUnread: true})
	require.NoError(t, err)
	_, _, err = repo.MarkViewed(ctx, "s1")
	require.NoError(t, err)

	_, err = repo.AppendMessage(ctx, "s1", &Message{Sender: SenderVisitor, Text: "y"}, AppendEffects{IncrementUnread: true})
	require.NoError(t, err)

	sess, vc, err := repo.MarkViewed(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ViewChange{Changed: true}, vc)
	assert.Equal(t, StatusInProgress, sess.Status)
	assert.Zero(t, sess.UnreadCount)
}

func TestRepo_DefaultReplyAppendsOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.UpsertAndAppend(ctx, "s1", &Message{Sender: SenderVisitor, Text: "hmm"}, SessionDefaults{}, AppendEffects{})
	require.NoError(t, err)

	sess, err := repo.AppendMessage(ctx, "s1", &Message{Sender: SenderAutomated, Text: DefaultReply}, AppendEffects{MarkDefaultReplySent: true})
	require.NoError(t, err)
	assert.True(t, sess.DefaultReplySent)

	_, err = repo.AppendMessage(ctx, "s1", &Message{Sender: SenderAutomated, Text: DefaultReply}, AppendEffects{MarkDefaultReplySent: true})
	require.ErrorIs(t, err, errDefaultReplySent)

	_, err = repo.AppendMessage(ctx, "ghost", &Message{Sender: SenderAutomated, Text: DefaultReply}, AppendEffects{MarkDefaultReplySent: true})
	require.ErrorIs(t, err, ErrNotFound)

	msgs, err := repo.Messages(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestRepo_QuerySearchEscapesWildcards(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.UpsertAndAppend(ctx, "pct", &Message{Sender: SenderVisitor, Text: "refund of 50% please"}, SessionDefaults{}, AppendEffects{})
	require.NoError(t, err)
	_, _, err = repo.UpsertAndAppend(ctx, "plain", &Message{Sender: SenderVisitor, Text: "refund of 500 please"}, SessionDefaults{}, AppendEffects{})
	require.NoError(t, err)
	_, _, err = repo.UpsertAndAppend(ctx, "under", &Message{Sender: SenderVisitor, Text: "hi"}, SessionDefaults{VisitorEmail: "a_b@example.com"}, AppendEffects{})
	require.NoError(t, err)
	_, _, err = repo.UpsertAndAppend(ctx, "nounder", &Message{Sender: SenderVisitor, Text: "hi"}, SessionDefaults{VisitorEmail: "axb@example.com"}, AppendEffects{})
	require.NoError(t, err)

	items, total, err := repo.Query(ctx, Filter{Search: "50%"}, Sort{}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, "pct", items[0].SessionID)

	items, _, err = repo.Query(ctx, Filter{Search: "a_b"}, Sort{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "under", items[0].SessionID)
}

func TestRepo_QuerySearchFoldsNonASCII(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.UpsertAndAppend(ctx, "de", &Message{Sender: SenderVisitor, Text: "Ärztliche Frage"}, SessionDefaults{}, AppendEffects{})
	require.NoError(t, err)
	_, _, err = repo.UpsertAndAppend(ctx, "other", &Message{Sender: SenderVisitor, Text: "billing"}, SessionDefaults{}, AppendEffects{})
	require.NoError(t, err)

	for _, term := range []string{"Ärzt", "ärztliche", "ÄRZT", "rztliche", "FRAGE"} {
		items, total, err := repo.Query(ctx, Filter{Search: term}, Sort{}, 0, 10)
		require.NoError(t, err, term)
		assert.Equal(t, int64(1), total, term)
		require.Len(t, items, 1, term)
		assert.Equal(t, "de", items[0].SessionID, term)
	}
}

func TestRepo_QueryOffsetPastEnd(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := repo.UpsertAndAppend(ctx, id, &Message{Sender: SenderVisitor, Text: "x"}, SessionDefaults{}, AppendEffects{})
		require.NoError(t, err)
	}

	items, total, err := repo.Query(ctx, Filter{}, Sort{}, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Empty(t, items)
}

func TestRepo_QuerySort(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, id := range []string{"first", "second", "third"} {
		for j := 0; j <= i; j++ {
			_, _, err := repo.UpsertAndAppend(ctx, id, &Message{Sender: SenderVisitor, Text: "x"}, SessionDefaults{}, AppendEffects{IncrementUnread: true})
			require.NoError(t, err)
		}
	}

	order := func(s Sort) []string {
		items, _, err := repo.Query(ctx, Filter{}, s, 0, 10)
		require.NoError(t, err)
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.SessionID)
		}
		return out
	}

	assert.Equal(t, []string{"third", "second", "first"}, order(ParseSort("-unread_count")))
	assert.Equal(t, []string{"first", "second", "third"}, order(ParseSort("unread_count")))
	assert.Equal(t, []string{"first", "second", "third"}, order(ParseSort("created_at")))
	assert.Equal(t, []string{"third", "second", "first"}, order(ParseSort("bogus")))
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, Sort{Field: SortLastMessageAt}, ParseSort(""))
	assert.Equal(t, Sort{Field: SortCreatedAt, Asc: true}, ParseSort("created_at"))
	assert.Equal(t, Sort{Field: SortUnreadCount}, ParseSort("-unread_count"))
	assert.Equal(t, Sort{Field: SortLastMessageAt}, ParseSort("-password_hash"))
}

func TestRepo_HardDeleteRemovesMessages(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, _, err := repo.UpsertAndAppend(ctx, "s1", &Message{Sender: SenderVisitor, Text: "x"}, SessionDefaults{}, AppendEffects{})
	require.NoError(t, err)

	fp, err := repo.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fp.TotalCount)

	require.NoError(t, repo.HardDelete(ctx, "s1"))
	require.NoError(t, repo.HardDelete(ctx, "s1"))

	_, err = repo.FindBySessionID(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
	msgs, err := repo.Messages(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	fp, err = repo.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Zero(t, fp.TotalCount)
}

func TestRepo_TimeoutIsTransient(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.FindBySessionID(ctx, "s1")
	require.ErrorIs(t, err, ErrTransient)
}
