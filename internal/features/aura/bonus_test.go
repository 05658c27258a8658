package aura

import (
	"math"
	"strings"
	"testing"
)

func TestCalculateBonus(t *testing.T) {
	longText := strings.Repeat("а", 120)

	tests := []struct {
		name   string
		kind   ActivityKind
		proof  *Proof
		streak int
		want   int64
	}{
		{"journal short", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Value: 60}, 1, 0},
		{"journal good", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Value: 75}, 1, 2},
		{"journal great", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Value: 150}, 1, 4},
		{"journal great with mood", ActivityJournalEntry, &Proof{
			Type: ProofJournalLength, Value: 200, Metadata: map[string]any{MetaMood: "спокойно"},
		}, 1, 5},
		{"journal words from text", ActivityJournalEntry, &Proof{
			Type: ProofJournalLength, Text: strings.Repeat("слово ", 80),
		}, 1, 2},
		{"meditation full", ActivityMeditation, &Proof{
			Type: ProofVideoCompletion, Value: 96, Metadata: map[string]any{MetaDurationMinutes: 16},
		}, 0, 5},
		{"workout completion only", ActivityWorkout, &Proof{Type: ProofVideoCompletion, Value: 95}, 0, 3},
		{"workout duration from json", ActivityWorkout, &Proof{
			Type: ProofVideoCompletion, Value: 85, Metadata: map[string]any{MetaDurationMinutes: 20.0},
		}, 0, 3},
		{"post media and long text", ActivitySocialPost, &Proof{
			Type: ProofPostContent, Text: longText, Metadata: map[string]any{MetaHasMedia: true},
		}, 0, 2},
		{"support long text", ActivityFriendSupport, &Proof{Type: ProofSocialInteraction, Text: longText}, 0, 1},
		{"support short text", ActivityFriendSupport, &Proof{Type: ProofSocialInteraction, Text: "держись"}, 0, 0},
		{"streak 14", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Value: 60}, 14, 2},
		{"streak 30", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Value: 60}, 30, 3},
		{"streak capped", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Value: 150}, 30, MaxBonus},
		{"no proof", ActivityGroupChallenge, nil, 0, 0},
		{"no proof long streak", ActivityLevelUp, nil, 40, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateBonus(tt.kind, tt.proof, tt.streak); got != tt.want {
				t.Errorf("CalculateBonus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestApplyMultiplier(t *testing.T) {
	tests := []struct {
		base, bonus int64
		mult        float64
		want        int64
	}{
		{10, 0, 0, 10},
		{15, 5, 1, 20},
		{30, 0, 1.5, 45},
		{25, 0, 0.5, 13},
		{10, 1, 2, 22},
		{10, 0, -1, 0},
		{10, 0, math.NaN(), 0},
		{10, 0, math.Inf(1), 0},
		{10, 0, 1e300, math.MaxInt64},
	}
	for _, tt := range tests {
		if got := ApplyMultiplier(tt.base, tt.bonus, tt.mult); got != tt.want {
			t.Errorf("ApplyMultiplier(%d, %d, %v) = %d, want %d", tt.base, tt.bonus, tt.mult, got, tt.want)
		}
	}
}

func TestValidateProof(t *testing.T) {
	catalog := DefaultCatalog()
	rule := func(k ActivityKind) ActivityRule {
		r, ok := catalog.Rule(k)
		if !ok {
			t.Fatalf("no rule for %s", k)
		}
		return r
	}

	tests := []struct {
		name  string
		kind  ActivityKind
		proof *Proof
		ok    bool
	}{
		{"journal 50 words", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Value: 50}, true},
		{"journal 49 words", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Value: 49}, false},
		{"journal counted text", ActivityJournalEntry, &Proof{Type: ProofJournalLength, Text: strings.Repeat("день ", 50)}, true},
		{"journal nil", ActivityJournalEntry, nil, false},
		{"meditation 80", ActivityMeditation, &Proof{Type: ProofVideoCompletion, Value: 80}, true},
		{"workout wrong type", ActivityWorkout, &Proof{Type: ProofStreakCount, Value: 100}, false},
		{"support text", ActivityFriendSupport, &Proof{Type: ProofSocialInteraction, Text: "ты справишься"}, true},
		{"milestone 6", ActivityStreakMilestone, &Proof{Type: ProofStreakCount, Value: 6}, false},
		{"milestone 7", ActivityStreakMilestone, &Proof{Type: ProofStreakCount, Value: 7}, true},
		{"post without proof", ActivitySocialPost, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := ValidateProof(rule(tt.kind), tt.proof)
			if (reason == "") != tt.ok {
				t.Errorf("ValidateProof() = %q, want ok=%v", reason, tt.ok)
			}
		})
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"сегодня было спокойно", 3},
		{"  пробелы  лишние  ", 2},
		{"строка\nи\tтаб", 3},
	}
	for _, tt := range tests {
		if got := CountWords(tt.text); got != tt.want {
			t.Errorf("CountWords(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
