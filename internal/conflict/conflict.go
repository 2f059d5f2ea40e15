// Package conflict decides whether proposed dictionary edits collide
// with the phrase store or with each other, and what weight a new entry
// should get when it shares a code with existing ones.
package conflict

import "keytao/api/internal/store"

// Suggestion kinds. Cancel and Adjust propose a remediation, Resolved
// records that another edit in the same batch clears the conflict.
const (
	SuggestCancel   = "cancel"
	SuggestAdjust   = "adjust"
	SuggestResolved = "resolved"
)

type Suggestion struct {
	Kind    string
	Message string
}

// Verdict is the conflict outcome for a single edit.
type Verdict struct {
	HasConflict     bool
	CurrentPhrase   *store.Phrase
	Impact          string
	Suggestions     []Suggestion
	SuggestedWeight *int
}

// Resolved reports whether another edit of the batch cleared this one.
func (v Verdict) Resolved() bool {
	for _, s := range v.Suggestions {
		if s.Kind == SuggestResolved {
			return true
		}
	}
	return false
}

// Blocking reports whether this verdict stops the batch from being
// submitted or approved.
func (v Verdict) Blocking() bool {
	return v.HasConflict && !v.Resolved()
}

// Result pairs an edit with its verdict, preserving batch order.
type Result struct {
	Index   int
	EditID  string
	Verdict Verdict
}

// BaseWeight is the starting weight for a phrase type. Entries stacked
// at an occupied code count up from here.
func BaseWeight(phraseType string) int {
	switch phraseType {
	case store.PhraseTypeSingle, store.PhraseTypeCSSSingle:
		return 10
	default:
		return 100
	}
}
