package ai

import (
	"context"
	"math/rand"
	"strings"
	"unicode"
)

// ProviderCanned is the provider name reported by CannedClient
const ProviderCanned = "canned"

type cannedCategory struct {
	keywords  []string
	responses []string
}

var cannedCategories = []cannedCategory{
	{
		keywords: []string{"hello", "hi", "hey", "greetings", "good morning", "good afternoon"},
		responses: []string{
			"Hello! How can I help you today?",
			"Hi there! What can I do for you?",
			"Hey! What's on your mind?",
		},
	},
	{
		keywords: []string{"bye", "goodbye", "see you", "farewell", "good night"},
		responses: []string{
			"Goodbye! Have a great day!",
			"See you later! Take care.",
			"Bye! Come back any time.",
		},
	},
	{
		keywords: []string{"thank", "thanks", "appreciate", "grateful"},
		responses: []string{
			"You're welcome!",
			"Happy to help!",
			"Anytime! Let me know if you need anything else.",
		},
	},
}

var cannedFallback = []string{
	"That's interesting. Tell me more.",
	"I see. Could you elaborate on that?",
	"I'm not sure I follow. Can you say it another way?",
}

// CannedClient answers from fixed keyword-matched replies. It needs no
// network access and is meant for local development and demos.
type CannedClient struct {
	pick func(n int) int
}

// NewCannedClient creates a canned responder. A nil pick uses math/rand.
func NewCannedClient(pick func(n int) int) *CannedClient {
	if pick == nil {
		pick = rand.Intn
	}
	return &CannedClient{pick: pick}
}

func (c *CannedClient) Provider() string { return ProviderCanned }

func (c *CannedClient) Model() string { return ProviderCanned }

// Complete answers the last user message in history
func (c *CannedClient) Complete(ctx context.Context, history []ChatMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			last = history[i].Content
			break
		}
	}

	normalized := normalize(last)
	for _, cat := range cannedCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(normalized, " "+kw+" ") {
				return cat.responses[c.pick(len(cat.responses))], nil
			}
		}
	}
	return cannedFallback[c.pick(len(cannedFallback))], nil
}

// normalize lowercases s and reduces it to space separated words padded
// with a leading and trailing space so keywords only match whole words
func normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}
