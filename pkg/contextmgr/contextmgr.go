// Package contextmgr assembles agent prompts from a request and its message
// thread, keeping them inside a token budget.
package contextmgr

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"clarity/pkg/logx"
	"clarity/pkg/persistence"
)

// Manager builds prompts within a fixed token budget. Older thread history
// is dropped first; the request description and the newest instruction are
// always kept.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Manager struct {
	budget int
	codec  tokenizer.Codec
	logger *logx.Logger
}

// NewManager creates a prompt builder with the given token budget. All
// supported agents approximate well with the GPT-4 encoding.
func NewManager(budget int) (*Manager, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", budget)
	}
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &Manager{
		budget: budget,
		codec:  codec,
		logger: logx.NewLogger("contextmgr"),
	}, nil
}

// CountTokens returns the number of tokens in the given text, falling back
// to character-based estimation (4 chars per token) if encoding fails.
func (m *Manager) CountTokens(text string) int {
	if m.codec == nil {
		return len(text) / 4
	}
	ids, _, err := m.codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// threadKinds are the message kinds replayed into prompts. Status noise
// (processing markers, retries) is excluded.
//
//nolint:gochecknoglobals // Static classification table.
var threadKinds = map[persistence.MessageKind]bool{
	persistence.MessageKindRequest:               true,
	persistence.MessageKindClarificationQuestion: true,
	persistence.MessageKindClarificationAnswer:   true,
	persistence.MessageKindFollowUp:              true,
	persistence.MessageKindComment:               true,
}

// BuildPrompt assembles the prompt for one turn: the task header, as much
// recent thread history as fits, and the turn's instruction last.
func (m *Manager) BuildPrompt(req *persistence.Request, thread []persistence.Message, instruction string) string {
	var b strings.Builder
	b.WriteString("# Task\n\n")
	b.WriteString(req.Description)
	b.WriteString("\n\n")

	history := m.renderHistory(req, thread, instruction)
	if history != "" {
		b.WriteString("# Conversation so far\n\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}

	b.WriteString("# Instruction\n\n")
	b.WriteString(instruction)
	b.WriteString("\n")
	return b.String()
}

// renderHistory renders thread messages oldest-first, dropping from the
// front until the whole prompt fits the budget.
func (m *Manager) renderHistory(req *persistence.Request, thread []persistence.Message, instruction string) string {
	var entries []string
	for i := range thread {
		msg := &thread[i]
		if !threadKinds[msg.Kind] {
			continue
		}
		author := msg.Author
		if author == "" {
			author = string(msg.Kind)
		}
		entries = append(entries, fmt.Sprintf("[%s] %s", author, msg.Body))
	}
	if len(entries) == 0 {
		return ""
	}

	// Fixed parts of the prompt eat into the budget first.
	fixed := m.CountTokens(req.Description) + m.CountTokens(instruction)
	remaining := m.budget - fixed
	if remaining <= 0 {
		m.logger.Warn("Prompt budget %d exhausted by task and instruction alone for request %s", m.budget, req.ID)
		return ""
	}

	// Walk newest to oldest, keeping what fits.
	kept := 0
	for i := len(entries) - 1; i >= 0; i-- {
		cost := m.CountTokens(entries[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		kept++
	}
	if kept < len(entries) {
		m.logger.Debug("Truncated thread history for request %s: kept %d of %d entries", req.ID, kept, len(entries))
	}
	if kept == 0 {
		return ""
	}
	return strings.Join(entries[len(entries)-kept:], "\n\n")
}
