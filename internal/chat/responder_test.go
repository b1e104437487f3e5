package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/carelink-support/internal/ai"
)

func TestKeywordResponder_FirstMatchWins(t *testing.T) {
	r := NewKeywordResponder(nil, DefaultReply)

	cases := []struct {
		text string
		rule string
	}{
		{"What are your SERVICES?", "services"},
		{"I want to book a visit", "appointment"},
		{"payment failed", "billing"},
		{"this is urgent", "emergency"},
		{"what are visiting hours", "hours"},
		{"phone number please", "contact"},
		{"do you take my insurance", "insurance"},
		{"need medicine", "pharmacy"},
		{"blood test results", "lab"},
		{"covid", "covid"},
	}
	replies := map[string]string{}
	for _, rule := range DefaultRules {
		replies[rule.Name] = rule.Reply
	}
	for _, tc := range cases {
		got, ok := r.Respond(context.Background(), tc.text, PriorReplies(nil))
		assert.True(t, ok, tc.text)
		assert.Equal(t, replies[tc.rule], got, tc.text)
	}
}

func TestKeywordResponder_DefaultReplyOnce(t *testing.T) {
	r := NewKeywordResponder(nil, DefaultReply)

	got, ok := r.Respond(context.Background(), "hello", PriorReplies(nil))
	assert.True(t, ok)
	assert.Equal(t, DefaultReply, got)

	_, ok = r.Respond(context.Background(), "hello", PriorReplies{"Our visiting hours are 10 AM to 8 PM.", DefaultReply})
	assert.False(t, ok)

	_, ok = r.Respond(context.Background(), "hello", defaultSentFlag(true))
	assert.False(t, ok)
	_, ok = r.Respond(context.Background(), "hello", defaultSentFlag(false))
	assert.True(t, ok)

	// a prior default reply never blocks keyword answers
	got, ok = r.Respond(context.Background(), "billing", defaultSentFlag(true))
	assert.True(t, ok)
	assert.NotEqual(t, DefaultReply, got)
}

type stubProvider struct {
	answer string
	err    error
	calls  int
}

func (p *stubProvider) Chat(context.Context, []ai.Message) (string, error) {
	p.calls++
	return p.answer, p.err
}

func TestAssistedResponder(t *testing.T) {
	base := NewKeywordResponder(nil, DefaultReply)
	ctx := context.Background()

	t.Run("keyword first", func(t *testing.T) {
		p := &stubProvider{answer: "llm"}
		r := NewAssistedResponder(base, p, 0, zerolog.Nop())
		got, ok := r.Respond(ctx, "any covid rules?", PriorReplies(nil))
		assert.True(t, ok)
		assert.Contains(t, got, "COVID-19")
		assert.Zero(t, p.calls)
	})

	t.Run("llm answer", func(t *testing.T) {
		p := &stubProvider{answer: "  We are open on Sundays.  "}
		r := NewAssistedResponder(base, p, 0, zerolog.Nop())
		got, ok := r.Respond(ctx, "open sunday?", defaultSentFlag(true))
		assert.True(t, ok)
		assert.Equal(t, "We are open on Sundays.", got)
	})

	t.Run("provider failure falls back", func(t *testing.T) {
		p := &stubProvider{err: errors.New("connection refused")}
		r := NewAssistedResponder(base, p, 0, zerolog.Nop())
		got, ok := r.Respond(ctx, "open sunday?", defaultSentFlag(false))
		assert.True(t, ok)
		assert.Equal(t, DefaultReply, got)

		_, ok = r.Respond(ctx, "open sunday?", defaultSentFlag(true))
		assert.False(t, ok)
	})

	t.Run("empty answer falls back", func(t *testing.T) {
		p := &stubProvider{answer: " "}
		r := NewAssistedResponder(base, p, 0, zerolog.Nop())
		got, ok := r.Respond(ctx, "open sunday?", PriorReplies(nil))
		assert.True(t, ok)
		assert.Equal(t, DefaultReply, got)
	})
}
