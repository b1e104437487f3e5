package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/carelink-support/internal/ai"
)

// DefaultReply is sent when no rule matches, at most once per session.
const DefaultReply = "Thank you for your message. Our support team will respond shortly."

type Rule struct {
	Name     string
	Keywords []string
	Reply    string
}

// DefaultRules are evaluated in order; the first rule with any keyword
// contained in the lower-cased text wins.
var DefaultRules = []Rule{
	{Name: "services", Keywords: []string{"what are your services", "services"},
		Reply: "We offer a wide range of services including general medicine, surgery, pediatrics, gynecology, orthopedics, neurology, emergency care, laboratory services, and pharmacy. What specific service are you interested in?"},
	{Name: "appointment", Keywords: []string{"appointment", "book"},
		Reply: "I can help you book an appointment. What type of appointment do you need?"},
	{Name: "billing", Keywords: []string{"billing", "payment"},
		Reply: "I can assist with billing questions. What specific billing issue do you have?"},
	{Name: "emergency", Keywords: []string{"emergency", "urgent"},
		Reply: "For emergencies, please call 911 immediately or visit our emergency department."},
	{Name: "hours", Keywords: []string{"hours", "visit"},
		Reply: "Our visiting hours are 10 AM to 8 PM. Emergency services are 24/7."},
	{Name: "contact", Keywords: []string{"contact", "phone"},
		Reply: "You can reach us at +1-555-0123 or email info@hospital.com"},
	{Name: "insurance", Keywords: []string{"insurance"},
		Reply: "We accept most major insurance providers. Please bring your insurance card."},
	{Name: "pharmacy", Keywords: []string{"pharmacy", "medicine"},
		Reply: "Our pharmacy is open Monday to Friday, 8 AM to 8 PM."},
	{Name: "lab", Keywords: []string{"lab", "test"},
		Reply: "Lab services are available Monday to Friday, 7 AM to 6 PM."},
	{Name: "covid", Keywords: []string{"covid"},
		Reply: "COVID-19 testing is available. Please call 9876543210 to schedule."},
}

// ReplyHistory answers whether an automated text was already sent in the session.
type ReplyHistory interface {
	AutomatedSent(text string) bool
}

// PriorReplies is a ReplyHistory over the session's automated message texts.
type PriorReplies []string

func (p PriorReplies) AutomatedSent(text string) bool {
	for _, t := range p {
		if t == text {
			return true
		}
	}
	return false
}

// defaultSentFlag answers from the session's cached flag instead of scanning messages.
type defaultSentFlag bool

func (f defaultSentFlag) AutomatedSent(text string) bool {
	return text == DefaultReply && bool(f)
}

// Responder produces at most one automated reply for an inbound visitor message.
// Implementations must not mutate the session.
type Responder interface {
	Respond(ctx context.Context, text string, history ReplyHistory) (reply string, ok bool)
}

type KeywordResponder struct {
	rules    []Rule
	fallback string
}

func NewKeywordResponder(rules []Rule, fallback string) *KeywordResponder {
	if rules == nil {
		rules = DefaultRules
	}
	return &KeywordResponder{rules: rules, fallback: fallback}
}

// Match returns the reply of the first matching rule.
func (r *KeywordResponder) Match(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Reply, true
			}
		}
	}
	return "", false
}

// Fallback returns the default reply unless the session already received it.
func (r *KeywordResponder) Fallback(history ReplyHistory) (string, bool) {
	if r.fallback == "" {
		return "", false
	}
	if history != nil && history.AutomatedSent(r.fallback) {
		return "", false
	}
	return r.fallback, true
}

func (r *KeywordResponder) Respond(_ context.Context, text string, history ReplyHistory) (string, bool) {
	if reply, ok := r.Match(text); ok {
		return reply, true
	}
	return r.Fallback(history)
}

const assistantPrompt = "You are the front-desk support assistant of a hospital management software vendor. " +
	"Answer the visitor in at most three sentences. If you are unsure, say that a support agent will follow up."

// AssistedResponder offers unmatched messages to an LLM before falling back
// to the default reply. Provider failures are logged and never surface.
type AssistedResponder struct {
	base     *KeywordResponder
	provider ai.Provider
	timeout  time.Duration
	log      zerolog.Logger
}

func NewAssistedResponder(base *KeywordResponder, provider ai.Provider, timeout time.Duration, log zerolog.Logger) *AssistedResponder {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &AssistedResponder{base: base, provider: provider, timeout: timeout, log: log}
}

func (r *AssistedResponder) Respond(ctx context.Context, text string, history ReplyHistory) (string, bool) {
	if reply, ok := r.base.Match(text); ok {
		return reply, true
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	answer, err := r.provider.Chat(cctx, []ai.Message{
		{Role: "system", Content: assistantPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("assisted reply failed, using default reply")
		return r.base.Fallback(history)
	}
	if answer = strings.TrimSpace(answer); answer != "" {
		return answer, true
	}
	return r.base.Fallback(history)
}
