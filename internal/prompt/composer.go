// Package prompt assembles chat-completions requests from settings, home
// context, history and the new utterance.
package prompt

import (
	"fmt"
	"strings"

	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/internal/types"
)

const baseInstructions = `You are an intelligent home automation assistant for Home Assistant.

Your tasks:
- Answer questions about smart home devices and their status
- Give helpful information about available features
- Explain Home Assistant concepts clearly
- Help with usage and automation

Always answer in a friendly, precise and helpful way.`

const contextHeader = "Current information about the smart home:"

// Composer builds a ChatRequest. It is stateless and deterministic.
type Composer struct {
	tokens TokenCounter
}

// TokenCounter estimates the prompt size of a request.
type TokenCounter interface {
	Count(text string) int
}

func NewComposer(tokens TokenCounter) *Composer {
	return &Composer{tokens: tokens}
}

// SystemPrompt renders the system message for the given settings.
func SystemPrompt(s config.Settings) string {
	var b strings.Builder
	b.WriteString(baseInstructions)
	fmt.Fprintf(&b, "\nRespond in the language with tag %q unless the user writes in another language.", s.Language)
	if extra := strings.TrimSpace(s.SystemPrompt); extra != "" {
		b.WriteString("\n\n")
		b.WriteString(extra)
	}
	return b.String()
}

// Compose orders messages as: system prompt, context, history oldest first,
// new user turn. History is copied verbatim; nothing is truncated here.
func (c *Composer) Compose(s config.Settings, contextSummary string, history []types.Turn, text string) *types.ChatRequest {
	messages := make([]types.Message, 0, len(history)+3)
	messages = append(messages, types.SystemTurn(SystemPrompt(s)).Message())
	messages = append(messages, types.SystemTurn(contextHeader+"\n"+contextSummary).Message())
	for _, t := range history {
		messages = append(messages, t.Message())
	}
	messages = append(messages, types.UserTurn(text).Message())

	req := &types.ChatRequest{
		Model:       s.Model,
		Messages:    messages,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
		Stream:      false,
	}
	if c.tokens != nil {
		for _, m := range messages {
			req.EstimatedTokens += c.tokens.Count(m.Content)
		}
	}
	return req
}
