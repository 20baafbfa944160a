package contextwindow

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

func turn(role models.Role, n int, fill string) models.Turn {
	return models.NewTurn(role, strings.Repeat(fill, n))
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"héllo", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "text %q", tt.text)
	}
}

func TestAssembleKeepsEverythingWithinBudget(t *testing.T) {
	turns := []models.Turn{
		turn(models.RoleUser, 8, "a"),
		turn(models.RoleAssistant, 8, "b"),
		turn(models.RoleUser, 8, "c"),
	}

	got := Assemble(turns, "sys", Budget{MaxTokens: 100, ReserveTokens: 10})

	want := append([]models.Turn{models.NewTurn(models.RoleSystem, "sys")}, turns...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Assemble() mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleOversizedLatestTurnDropsHistory(t *testing.T) {
	turns := []models.Turn{
		turn(models.RoleUser, 4, "a"),
		turn(models.RoleAssistant, 4, "b"),
		turn(models.RoleUser, 400, "c"),
	}

	got := Assemble(turns, strings.Repeat("s", 40), Budget{MaxTokens: 50, ReserveTokens: 10})

	if assert.Len(t, got, 2) {
		assert.Equal(t, models.RoleSystem, got[0].Role)
		assert.Equal(t, turns[2], got[1])
	}
}

func TestAssembleIncludesContiguousSuffix(t *testing.T) {
	// each turn costs 10 tokens, latest included first, limit 35
	turns := []models.Turn{
		turn(models.RoleUser, 40, "a"),
		turn(models.RoleAssistant, 40, "b"),
		turn(models.RoleUser, 40, "c"),
		turn(models.RoleAssistant, 40, "d"),
		turn(models.RoleUser, 40, "e"),
	}

	got := Assemble(turns, "", Budget{MaxTokens: 40, ReserveTokens: 5})

	if diff := cmp.Diff(turns[2:], got); diff != "" {
		t.Errorf("Assemble() mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleStopsAtFirstOverflow(t *testing.T) {
	// the large middle turn blocks the small oldest one
	turns := []models.Turn{
		turn(models.RoleUser, 4, "a"),
		turn(models.RoleAssistant, 200, "b"),
		turn(models.RoleUser, 4, "c"),
		turn(models.RoleAssistant, 4, "d"),
	}

	got := Assemble(turns, "", Budget{MaxTokens: 20, ReserveTokens: 0})

	if diff := cmp.Diff(turns[2:], got); diff != "" {
		t.Errorf("Assemble() mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	assert.Empty(t, Assemble(nil, "", Budget{MaxTokens: 10}))

	got := Assemble(nil, "sys", Budget{MaxTokens: 10})
	assert.Equal(t, []models.Turn{models.NewTurn(models.RoleSystem, "sys")}, got)
}

func TestAssembleDoesNotMutateInput(t *testing.T) {
	turns := []models.Turn{
		turn(models.RoleUser, 4, "a"),
		turn(models.RoleUser, 4, "b"),
	}
	snapshot := append([]models.Turn(nil), turns...)

	_ = Assemble(turns, "sys", Budget{MaxTokens: 100})

	assert.Equal(t, snapshot, turns)
}

func TestAssembleSuffixProperty(t *testing.T) {
	sizes := []int{3, 17, 8, 1, 25, 6, 12, 9, 4, 30}
	turns := make([]models.Turn, len(sizes))
	for i, n := range sizes {
		turns[i] = turn(models.RoleUser, n*4, string(rune('a'+i)))
	}

	for max := 0; max <= 150; max += 7 {
		got := Assemble(turns, "", Budget{MaxTokens: max})
		assert.NotEmpty(t, got)
		assert.Equal(t, turns[len(turns)-1], got[len(got)-1])
		// the output must be exactly the tail of the input
		assert.Equal(t, turns[len(turns)-len(got):], got, "max tokens %d", max)
	}
}
