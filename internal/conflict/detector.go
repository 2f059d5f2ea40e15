package conflict

import (
	"context"
	"fmt"

	"keytao/api/internal/store"
)

// PhraseReader is the slice of the store the conflict checks need.
type PhraseReader interface {
	GetPhraseByID(ctx context.Context, phraseID string) (*store.Phrase, error)
	GetPhraseByWordCode(ctx context.Context, word, code string) (*store.Phrase, error)
	ListPhrasesByCode(ctx context.Context, code string) ([]store.Phrase, error)
	CountPhrasesByCodeAndType(ctx context.Context, code, phraseType string) (int, error)
}

// Detector checks one edit at a time against the phrase store. It holds
// no state, so the same edit always gets the same verdict.
type Detector struct {
	phrases PhraseReader
}

func NewDetector(phrases PhraseReader) *Detector {
	return &Detector{phrases: phrases}
}

func (d *Detector) Check(ctx context.Context, edit store.Edit) (Verdict, error) {
	switch edit.Action {
	case store.EditActionCreate:
		return d.checkCreate(ctx, edit)
	case store.EditActionChange:
		return d.checkChange(ctx, edit)
	case store.EditActionDelete:
		return d.checkDelete(ctx, edit)
	default:
		return Verdict{}, fmt.Errorf("unknown edit action %q", edit.Action)
	}
}

func (d *Detector) checkCreate(ctx context.Context, edit store.Edit) (Verdict, error) {
	exact, err := d.phrases.GetPhraseByWordCode(ctx, edit.Word, edit.Code)
	if err != nil {
		return Verdict{}, err
	}
	if exact != nil {
		return Verdict{
			HasConflict:   true,
			CurrentPhrase: exact,
			Impact:        fmt.Sprintf("%q already exists at code %q", edit.Word, edit.Code),
			Suggestions: []Suggestion{{
				Kind:    SuggestCancel,
				Message: "the entry is already in the dictionary, drop this edit",
			}},
		}, nil
	}

	occupied, err := d.phrases.ListPhrasesByCode(ctx, edit.Code)
	if err != nil {
		return Verdict{}, err
	}
	if len(occupied) > 0 {
		top := occupied[0]
		return Verdict{
			HasConflict:   true,
			CurrentPhrase: &top,
			Impact:        fmt.Sprintf("code %q is taken by %q, %q becomes a secondary candidate", edit.Code, top.Word, edit.Word),
			Suggestions: []Suggestion{{
				Kind:    SuggestAdjust,
				Message: "keep it with the suggested weight, or pick another code",
			}},
		}, nil
	}
	return Verdict{}, nil
}

func (d *Detector) checkChange(ctx context.Context, edit store.Edit) (Verdict, error) {
	source, err := d.phrases.GetPhraseByWordCode(ctx, edit.OldWord, edit.Code)
	if err != nil {
		return Verdict{}, err
	}
	if source == nil && edit.PhraseID != nil {
		source, err = d.phrases.GetPhraseByID(ctx, *edit.PhraseID)
		if err != nil {
			return Verdict{}, err
		}
	}
	if source == nil {
		return Verdict{
			HasConflict: true,
			Impact:      fmt.Sprintf("no entry %q at code %q to change", edit.OldWord, edit.Code),
			Suggestions: []Suggestion{{
				Kind:    SuggestCancel,
				Message: "the entry was changed or removed in the meantime, drop this edit",
			}},
		}, nil
	}

	if edit.Word != edit.OldWord {
		dest, err := d.phrases.GetPhraseByWordCode(ctx, edit.Word, edit.Code)
		if err != nil {
			return Verdict{}, err
		}
		if dest != nil && dest.ID != source.ID {
			return Verdict{
				HasConflict:   true,
				CurrentPhrase: dest,
				Impact:        fmt.Sprintf("%q already exists at code %q", edit.Word, edit.Code),
				Suggestions: []Suggestion{{
					Kind:    SuggestAdjust,
					Message: "pick a different word, or delete the existing entry first",
				}},
			}, nil
		}
	}
	return Verdict{}, nil
}

// checkDelete never blocks a batch. Deleting something that is already
// gone only produces an advisory notice.
func (d *Detector) checkDelete(ctx context.Context, edit store.Edit) (Verdict, error) {
	target, err := d.phrases.GetPhraseByWordCode(ctx, edit.Word, edit.Code)
	if err != nil {
		return Verdict{}, err
	}
	if target == nil && edit.PhraseID != nil {
		target, err = d.phrases.GetPhraseByID(ctx, *edit.PhraseID)
		if err != nil {
			return Verdict{}, err
		}
	}
	if target == nil {
		return Verdict{
			Impact: fmt.Sprintf("no entry %q at code %q, nothing to delete", edit.Word, edit.Code),
			Suggestions: []Suggestion{{
				Kind:    SuggestCancel,
				Message: "the entry is already gone, this edit can be dropped",
			}},
		}, nil
	}
	return Verdict{CurrentPhrase: target}, nil
}
