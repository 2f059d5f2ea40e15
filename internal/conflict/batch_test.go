package conflict

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"keytao/api/internal/store"
)

func TestCheckBatchRejectsEmptyBatch(t *testing.T) {
	service := NewBatchService(&fakePhrases{})

	if _, err := service.CheckBatch(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestCreateAtOccupiedCodeGetsStackedWeight(t *testing.T) {
	service := NewBatchService(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})

	results, err := service.CheckBatch(context.Background(), []store.Edit{createEdit("ed_1", "新词", "rjgl")})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	verdict := results[0].Verdict
	if !verdict.HasConflict {
		t.Fatalf("expected conflict at occupied code")
	}
	if !strings.Contains(verdict.Impact, "如果") {
		t.Fatalf("impact should name the colliding word, got %q", verdict.Impact)
	}
	if verdict.SuggestedWeight == nil || *verdict.SuggestedWeight != 101 {
		t.Fatalf("expected suggested weight 101, got %v", verdict.SuggestedWeight)
	}
}

func TestWeightsStackInBatchOrder(t *testing.T) {
	service := NewBatchService(&fakePhrases{})

	results, err := service.CheckBatch(context.Background(), []store.Edit{
		createEdit("ed_1", "甲", "xy"),
		createEdit("ed_2", "乙", "xy"),
	})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	if w := results[0].Verdict.SuggestedWeight; w == nil || *w != 100 {
		t.Fatalf("expected first weight 100, got %v", w)
	}
	if w := results[1].Verdict.SuggestedWeight; w == nil || *w != 101 {
		t.Fatalf("expected second weight 101, got %v", w)
	}

	// The earlier edit is warned about the shared code, the later one
	// carries no conflict of its own.
	if !results[0].Verdict.HasConflict || !hasSuggestion(results[0].Verdict, SuggestAdjust) {
		t.Fatalf("expected earlier edit flagged with adjust, got %+v", results[0].Verdict)
	}
	if !strings.Contains(results[0].Verdict.Impact, "#2") {
		t.Fatalf("impact should cite the later edit, got %q", results[0].Verdict.Impact)
	}
	if results[1].Verdict.HasConflict {
		t.Fatalf("later edit should not be flagged for a shared code, got %+v", results[1].Verdict)
	}
}

func TestWeightsCountExistingEntriesPerType(t *testing.T) {
	service := NewBatchService(&fakePhrases{phrases: []store.Phrase{
		phraseRow("ph_1", "一", "abc", 100),
		phraseRow("ph_2", "二", "abc", 101),
	}})

	results, err := service.CheckBatch(context.Background(), []store.Edit{
		createEdit("ed_1", "三", "abc"),
		createEdit("ed_2", "四", "abc"),
		createEdit("ed_3", "五", "abc"),
	})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	want := []int{102, 103, 104}
	for i, w := range want {
		got := results[i].Verdict.SuggestedWeight
		if got == nil || *got != w {
			t.Fatalf("edit %d: expected weight %d, got %v", i, w, got)
		}
	}
}

func TestSingleTypeUsesItsOwnBase(t *testing.T) {
	service := NewBatchService(&fakePhrases{})

	edit := store.Edit{ID: "ed_1", Action: store.EditActionCreate, Word: "的", Code: "d", Type: store.PhraseTypeSingle}
	results, err := service.CheckBatch(context.Background(), []store.Edit{edit})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	if w := results[0].Verdict.SuggestedWeight; w == nil || *w != 10 {
		t.Fatalf("expected single base weight 10, got %v", w)
	}
}

func TestExplicitWeightWins(t *testing.T) {
	service := NewBatchService(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})

	weight := 500
	edit := createEdit("ed_1", "新词", "rjgl")
	edit.Weight = &weight
	results, err := service.CheckBatch(context.Background(), []store.Edit{edit, createEdit("ed_2", "另词", "rjgl")})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	if w := results[0].Verdict.SuggestedWeight; w == nil || *w != 500 {
		t.Fatalf("expected explicit weight 500, got %v", w)
	}
	// The explicit entry still occupies a batch slot for the next one.
	if w := results[1].Verdict.SuggestedWeight; w == nil || *w != 102 {
		t.Fatalf("expected stacked weight 102 after explicit entry, got %v", w)
	}
}

func TestInBatchDuplicateFlagsOnlyTheLaterEdit(t *testing.T) {
	service := NewBatchService(&fakePhrases{})

	results, err := service.CheckBatch(context.Background(), []store.Edit{
		createEdit("ed_1", "测试", "ceja"),
		createEdit("ed_2", "测试", "ceja"),
	})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	if results[0].Verdict.HasConflict {
		t.Fatalf("earlier duplicate must stay clean, got %+v", results[0].Verdict)
	}
	later := results[1].Verdict
	if !later.HasConflict {
		t.Fatalf("later duplicate must be flagged")
	}
	if !strings.Contains(later.Impact, "#1") {
		t.Fatalf("impact should cite the earlier edit, got %q", later.Impact)
	}
	if !hasSuggestion(later, SuggestCancel) {
		t.Fatalf("expected cancel suggestion, got %+v", later.Suggestions)
	}
}

func TestLaterDeleteResolvesEarlierConflict(t *testing.T) {
	service := NewBatchService(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})

	results, err := service.CheckBatch(context.Background(), []store.Edit{
		createEdit("ed_1", "新词", "rjgl"),
		deleteEdit("ed_2", "如果", "rjgl"),
	})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	verdict := results[0].Verdict
	if verdict.HasConflict {
		t.Fatalf("conflict should be cleared by the later delete, got %+v", verdict)
	}
	if !verdict.Resolved() {
		t.Fatalf("expected a resolved suggestion, got %+v", verdict.Suggestions)
	}
	if verdict.Blocking() {
		t.Fatalf("resolved verdict must not block")
	}
}

func TestEarlierDeleteResolvesLaterConflict(t *testing.T) {
	service := NewBatchService(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})

	results, err := service.CheckBatch(context.Background(), []store.Edit{
		deleteEdit("ed_1", "如果", "rjgl"),
		createEdit("ed_2", "新词", "rjgl"),
	})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	verdict := results[1].Verdict
	if verdict.HasConflict || !verdict.Resolved() {
		t.Fatalf("expected later conflict resolved by earlier delete, got %+v", verdict)
	}
	if !strings.Contains(verdict.Suggestions[len(verdict.Suggestions)-1].Message, "#1") {
		t.Fatalf("resolution should cite the resolving edit, got %+v", verdict.Suggestions)
	}
}

func TestChangeMovingPhraseAwayResolves(t *testing.T) {
	service := NewBatchService(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})

	results, err := service.CheckBatch(context.Background(), []store.Edit{
		createEdit("ed_1", "如果", "rjgl"),
		changeEdit("ed_2", "如果", "若果", "rjgl"),
	})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	verdict := results[0].Verdict
	if verdict.HasConflict || !verdict.Resolved() {
		t.Fatalf("expected duplicate resolved by rename, got %+v", verdict)
	}
}

func TestUnresolvedConflictKeepsBlocking(t *testing.T) {
	service := NewBatchService(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})

	results, err := service.CheckBatch(context.Background(), []store.Edit{
		createEdit("ed_1", "如果", "rjgl"),
		deleteEdit("ed_2", "别的", "qtmc"),
	})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	if !results[0].Verdict.Blocking() {
		t.Fatalf("unrelated delete must not resolve the conflict, got %+v", results[0].Verdict)
	}
}

func TestCheckBatchIsIdempotent(t *testing.T) {
	service := NewBatchService(&fakePhrases{phrases: []store.Phrase{phraseRow("ph_1", "如果", "rjgl", 100)}})
	edits := []store.Edit{
		createEdit("ed_1", "新词", "rjgl"),
		createEdit("ed_2", "另词", "lcmc"),
		deleteEdit("ed_3", "如果", "rjgl"),
	}

	first, err := service.CheckBatch(context.Background(), edits)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	second, err := service.CheckBatch(context.Background(), edits)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ between runs:\n%+v\n%+v", first, second)
	}
}
