package conflict

import (
	"context"
	"sort"
	"testing"

	"keytao/api/internal/store"
)

type fakePhrases struct {
	phrases []store.Phrase
}

func (f *fakePhrases) GetPhraseByID(_ context.Context, phraseID string) (*store.Phrase, error) {
	for i := range f.phrases {
		if f.phrases[i].ID == phraseID {
			item := f.phrases[i]
			return &item, nil
		}
	}
	return nil, nil
}

func (f *fakePhrases) GetPhraseByWordCode(_ context.Context, word, code string) (*store.Phrase, error) {
	for i := range f.phrases {
		if f.phrases[i].Word == word && f.phrases[i].Code == code {
			item := f.phrases[i]
			return &item, nil
		}
	}
	return nil, nil
}

func (f *fakePhrases) ListPhrasesByCode(_ context.Context, code string) ([]store.Phrase, error) {
	items := make([]store.Phrase, 0)
	for _, item := range f.phrases {
		if item.Code == code {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Weight > items[j].Weight })
	return items, nil
}

func (f *fakePhrases) CountPhrasesByCodeAndType(_ context.Context, code, phraseType string) (int, error) {
	count := 0
	for _, item := range f.phrases {
		if item.Code == code && item.Type == phraseType {
			count++
		}
	}
	return count, nil
}

func phraseRow(id, word, code string, weight int) store.Phrase {
	return store.Phrase{ID: id, Word: word, Code: code, Type: store.PhraseTypePhrase, Weight: weight, Status: "finish"}
}

func createEdit(id, word, code string) store.Edit {
	return store.Edit{ID: id, Action: store.EditActionCreate, Word: word, Code: code, Type: store.PhraseTypePhrase}
}

func changeEdit(id, oldWord, word, code string) store.Edit {
	return store.Edit{ID: id, Action: store.EditActionChange, OldWord: oldWord, Word: word, Code: code, Type: store.PhraseTypePhrase}
}

func deleteEdit(id, word, code string) store.Edit {
	return store.Edit{ID: id, Action: store.EditActionDelete, Word: word, Code: code, Type: store.PhraseTypePhrase}
}

func hasSuggestion(v Verdict, kind string) bool {
	for _, s := range v.Suggestions {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func TestCreateExactDuplicateConflicts(t *testing.T) {
	detector := NewDetector(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})

	verdict, err := detector.Check(context.Background(), createEdit("ed_1", "如果", "rjgl"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !verdict.HasConflict {
		t.Fatalf("expected conflict for exact duplicate")
	}
	if verdict.CurrentPhrase == nil || verdict.CurrentPhrase.ID != "ph_1" {
		t.Fatalf("expected current phrase ph_1, got %+v", verdict.CurrentPhrase)
	}
	if !hasSuggestion(verdict, SuggestCancel) {
		t.Fatalf("expected cancel suggestion, got %+v", verdict.Suggestions)
	}
}

func TestCreateAtOccupiedCodeConflicts(t *testing.T) {
	detector := NewDetector(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})

	verdict, err := detector.Check(context.Background(), createEdit("ed_1", "新词", "rjgl"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !verdict.HasConflict {
		t.Fatalf("expected conflict at occupied code")
	}
	if verdict.CurrentPhrase == nil || verdict.CurrentPhrase.Word != "如果" {
		t.Fatalf("expected 如果 as colliding phrase, got %+v", verdict.CurrentPhrase)
	}
	if !hasSuggestion(verdict, SuggestAdjust) {
		t.Fatalf("expected adjust suggestion, got %+v", verdict.Suggestions)
	}
}

func TestCreateAtFreeCodeIsClean(t *testing.T) {
	detector := NewDetector(&fakePhrases{})

	verdict, err := detector.Check(context.Background(), createEdit("ed_1", "新词", "xinc"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.HasConflict || len(verdict.Suggestions) != 0 {
		t.Fatalf("expected clean verdict, got %+v", verdict)
	}
}

func TestChangeMissingSourceConflicts(t *testing.T) {
	detector := NewDetector(&fakePhrases{})

	verdict, err := detector.Check(context.Background(), changeEdit("ed_1", "没有", "新词", "abcd"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !verdict.HasConflict {
		t.Fatalf("expected conflict for missing source")
	}
	if !hasSuggestion(verdict, SuggestCancel) {
		t.Fatalf("expected cancel suggestion, got %+v", verdict.Suggestions)
	}
}

func TestChangeFindsSourceByPhraseID(t *testing.T) {
	detector := NewDetector(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "旧词", "abcd", 100)}})

	phraseID := "ph_1"
	edit := changeEdit("ed_1", "别名", "新词", "abcd")
	edit.PhraseID = &phraseID
	verdict, err := detector.Check(context.Background(), edit)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.HasConflict {
		t.Fatalf("expected phrase id fallback to find the source, got %+v", verdict)
	}
}

func TestChangeOccupiedDestinationConflicts(t *testing.T) {
	detector := NewDetector(&fakePhrases{phrases: []store.Phrase{
		phraseRow("ph_1", "甲", "abcd", 100),
		phraseRow("ph_2", "乙", "abcd", 101),
	}})

	verdict, err := detector.Check(context.Background(), changeEdit("ed_1", "甲", "乙", "abcd"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !verdict.HasConflict {
		t.Fatalf("expected conflict for occupied destination")
	}
	if verdict.CurrentPhrase == nil || verdict.CurrentPhrase.ID != "ph_2" {
		t.Fatalf("expected destination phrase ph_2, got %+v", verdict.CurrentPhrase)
	}
	if !hasSuggestion(verdict, SuggestAdjust) {
		t.Fatalf("expected adjust suggestion, got %+v", verdict.Suggestions)
	}
}

func TestDeleteMissingTargetIsAdvisory(t *testing.T) {
	detector := NewDetector(&fakePhrases{})

	verdict, err := detector.Check(context.Background(), deleteEdit("ed_1", "没有", "abcd"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.HasConflict {
		t.Fatalf("delete of a missing entry must not block, got %+v", verdict)
	}
	if verdict.Impact == "" {
		t.Fatalf("expected an advisory impact message")
	}
}

func TestDetectorIsIdempotent(t *testing.T) {
	detector := NewDetector(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})
	edit := createEdit("ed_1", "新词", "rjgl")

	first, err := detector.Check(context.Background(), edit)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	second, err := detector.Check(context.Background(), edit)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if first.HasConflict != second.HasConflict || first.Impact != second.Impact || len(first.Suggestions) != len(second.Suggestions) {
		t.Fatalf("verdicts differ between runs: %+v vs %+v", first, second)
	}
}
