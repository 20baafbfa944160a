// Package contextwindow trims a conversation to fit a provider's token budget.
package contextwindow

import (
	"unicode/utf8"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

// Budget bounds the assembled context. ReserveTokens is held back for the reply.
type Budget struct {
	MaxTokens     int
	ReserveTokens int
}

// Available is the number of tokens the prompt may use.
func (b Budget) Available() int {
	return b.MaxTokens - b.ReserveTokens
}

// EstimateTokens approximates a token count as one token per four characters, rounded up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Assemble returns the system prompt (if any), the newest run of older turns
// that fits the budget in chronological order, and the latest turn. The
// system prompt and the latest turn are always kept even when they alone
// overflow the budget. Older turns are included whole or not at all and the
// walk stops at the first turn that does not fit.
func Assemble(turns []models.Turn, systemPrompt string, budget Budget) []models.Turn {
	out := make([]models.Turn, 0, len(turns)+1)
	used := 0

	if systemPrompt != "" {
		out = append(out, models.NewTurn(models.RoleSystem, systemPrompt))
		used += EstimateTokens(systemPrompt)
	}

	if len(turns) == 0 {
		return out
	}

	latest := turns[len(turns)-1]
	used += EstimateTokens(latest.Text)

	limit := budget.Available()
	start := len(turns) - 1
	for i := len(turns) - 2; i >= 0; i-- {
		cost := EstimateTokens(turns[i].Text)
		if used+cost > limit {
			break
		}
		used += cost
		start = i
	}

	out = append(out, turns[start:len(turns)-1]...)
	return append(out, latest)
}
