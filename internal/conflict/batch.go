package conflict

import (
	"context"
	"errors"
	"fmt"

	"keytao/api/internal/store"
)

var ErrEmptyBatch = errors.New("batch has no edits")

// BatchService runs the full two pass check for a batch: first every
// edit against the phrase store, then every edit against the others in
// batch order. The second pass can both raise conflicts (two edits
// claiming the same code) and clear them (a later delete vacating the
// row an earlier create collided with).
type BatchService struct {
	phrases  PhraseReader
	detector *Detector
}

func NewBatchService(phrases PhraseReader) *BatchService {
	return &BatchService{phrases: phrases, detector: NewDetector(phrases)}
}

func (s *BatchService) CheckBatch(ctx context.Context, edits []store.Edit) ([]Result, error) {
	if len(edits) == 0 {
		return nil, ErrEmptyBatch
	}

	results := make([]Result, len(edits))
	batchCounts := make(map[string]int)
	for i, edit := range edits {
		verdict, err := s.detector.Check(ctx, edit)
		if err != nil {
			return nil, err
		}
		if edit.Action == store.EditActionCreate {
			weight, err := s.weightFor(ctx, edit, batchCounts)
			if err != nil {
				return nil, err
			}
			verdict.SuggestedWeight = &weight
			batchCounts[stackKey(edit)]++
		}
		results[i] = Result{Index: i, EditID: edit.ID, Verdict: verdict}
	}

	for i := 0; i < len(edits); i++ {
		for j := i + 1; j < len(edits); j++ {
			checkPair(edits, results, i, j)
		}
	}
	return results, nil
}

func stackKey(edit store.Edit) string {
	return edit.Code + "\x00" + edit.Type
}

// weightFor implements the stacking rule: a new entry ranks below every
// entry of the same code and type that is already in the store, and
// below every earlier create of that code and type in the same batch.
// An explicit weight on the edit wins over the computed one.
func (s *BatchService) weightFor(ctx context.Context, edit store.Edit, batchCounts map[string]int) (int, error) {
	if edit.Weight != nil {
		return *edit.Weight, nil
	}
	existing, err := s.phrases.CountPhrasesByCodeAndType(ctx, edit.Code, edit.Type)
	if err != nil {
		return 0, err
	}
	return BaseWeight(edit.Type) + existing + batchCounts[stackKey(edit)], nil
}

// introduced returns the (word, code) pair an edit will occupy once
// applied. Deletes occupy nothing.
func introduced(edit store.Edit) (word, code string, ok bool) {
	switch edit.Action {
	case store.EditActionCreate, store.EditActionChange:
		return edit.Word, edit.Code, true
	}
	return "", "", false
}

func checkPair(edits []store.Edit, results []Result, i, j int) {
	earlier, later := edits[i], edits[j]

	ew, ec, eok := introduced(earlier)
	lw, lc, lok := introduced(later)
	if eok && lok && ec == lc {
		if ew == lw {
			// Two edits producing the same entry: the later one loses.
			v := &results[j].Verdict
			v.HasConflict = true
			v.Impact = fmt.Sprintf("duplicate of edit #%d in this batch (%q at %q)", i+1, lw, lc)
			v.Suggestions = append(v.Suggestions, Suggestion{
				Kind:    SuggestCancel,
				Message: "remove one of the two edits",
			})
		} else {
			// Different words on one code: the earlier edit is told the
			// code will be shared.
			v := &results[i].Verdict
			v.HasConflict = true
			v.Impact = fmt.Sprintf("code %q is also claimed by edit #%d (%q)", ec, j+1, lw)
			v.Suggestions = append(v.Suggestions, Suggestion{
				Kind:    SuggestAdjust,
				Message: "the entries will share the code with stacked weights",
			})
		}
	}

	// A later change or delete can vacate the stored phrase an earlier
	// edit collided with, and the other way round.
	if vacates(later, results[i].Verdict.CurrentPhrase) {
		resolve(&results[i].Verdict, j, later)
	}
	if vacates(earlier, results[j].Verdict.CurrentPhrase) {
		resolve(&results[j].Verdict, i, earlier)
	}
}

// vacates reports whether applying the edit removes the given stored
// phrase from its (word, code) slot.
func vacates(edit store.Edit, phrase *store.Phrase) bool {
	if phrase == nil {
		return false
	}
	switch edit.Action {
	case store.EditActionDelete:
		if edit.PhraseID != nil && *edit.PhraseID == phrase.ID {
			return true
		}
		return edit.Word == phrase.Word && edit.Code == phrase.Code
	case store.EditActionChange:
		return edit.OldWord == phrase.Word && edit.Code == phrase.Code && edit.Word != phrase.Word
	}
	return false
}

func resolve(v *Verdict, by int, edit store.Edit) {
	if !v.HasConflict || v.Resolved() {
		return
	}
	v.HasConflict = false
	verb := "deletes"
	if edit.Action == store.EditActionChange {
		verb = "changes"
	}
	v.Suggestions = append(v.Suggestions, Suggestion{
		Kind:    SuggestResolved,
		Message: fmt.Sprintf("edit #%d %s the conflicting entry", by+1, verb),
	})
}
