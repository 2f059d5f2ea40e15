package dictfile

import (
	"strings"
	"testing"
)

const sampleDict = `# Rime dictionary
# ancient comment

---
name: keytao.phrase
version: "2024-01-01"
sort: by_weight
...

如果	rjgl	100
觉得	jxud	100
时间	ujja	99
`

func TestParseReadsHeaderAndEntries(t *testing.T) {
	header, entries, err := Parse(sampleDict)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if header.Name != "keytao.phrase" || header.Version != "2024-01-01" || header.Sort != "by_weight" {
		t.Fatalf("unexpected header: %+v", header)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Word != "如果" || entries[0].Code != "rjgl" || entries[0].Weight != 100 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestParseToleratesMissingWeight(t *testing.T) {
	_, entries, err := Parse("---\nname: t\n...\n如果\trjgl\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 1 || entries[0].Weight != 0 {
		t.Fatalf("expected weightless entry, got %+v", entries)
	}
}

func TestParseRejectsBadWeight(t *testing.T) {
	if _, _, err := Parse("---\nname: t\n...\n如果\trjgl\tabc\n"); err == nil {
		t.Fatalf("expected error for non numeric weight")
	}
}

func TestRenderRoundTrips(t *testing.T) {
	header, entries, err := Parse(sampleDict)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rendered, err := Render(header, entries)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	header2, entries2, err := Parse(rendered)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if header2 != header {
		t.Fatalf("header changed in round trip: %+v vs %+v", header2, header)
	}
	if len(entries2) != len(entries) {
		t.Fatalf("entry count changed in round trip: %d vs %d", len(entries2), len(entries))
	}
	for i := range entries {
		if entries2[i] != entries[i] {
			t.Fatalf("entry %d changed in round trip: %+v vs %+v", i, entries2[i], entries[i])
		}
	}

	rerendered, err := Render(header2, entries2)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if rerendered != rendered {
		t.Fatalf("render is not deterministic")
	}
}

func TestMergeNewEntriesWin(t *testing.T) {
	existing := []Entry{
		{Word: "如果", Code: "rjgl", Weight: 100},
		{Word: "觉得", Code: "jxud", Weight: 100},
	}
	updates := []Entry{
		{Word: "如果", Code: "rjgl", Weight: 150},
		{Word: "新词", Code: "xinc", Weight: 100},
	}

	merged := Merge(existing, updates)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged entries, got %d", len(merged))
	}
	if merged[0].Word != "如果" || merged[0].Weight != 150 {
		t.Fatalf("updated entry should win in place, got %+v", merged[0])
	}
	if merged[1].Word != "觉得" {
		t.Fatalf("untouched entry should keep its position, got %+v", merged[1])
	}
	if merged[2].Word != "新词" {
		t.Fatalf("new entry should be appended, got %+v", merged[2])
	}
}

func TestRemoveDropsOnlyTheMatchingPair(t *testing.T) {
	entries := []Entry{
		{Word: "如果", Code: "rjgl", Weight: 100},
		{Word: "如果", Code: "rgl", Weight: 50},
	}

	kept := Remove(entries, "如果", "rjgl")
	if len(kept) != 1 || kept[0].Code != "rgl" {
		t.Fatalf("expected only the exact pair removed, got %+v", kept)
	}
}

func TestSortEntriesOrdersByCodeThenWeight(t *testing.T) {
	entries := []Entry{
		{Word: "乙", Code: "xy", Weight: 100},
		{Word: "甲", Code: "ab", Weight: 50},
		{Word: "丙", Code: "xy", Weight: 101},
	}

	SortEntries(entries)
	if entries[0].Code != "ab" {
		t.Fatalf("expected code order first, got %+v", entries)
	}
	if entries[1].Word != "丙" || entries[2].Word != "乙" {
		t.Fatalf("expected descending weight within a code, got %+v", entries)
	}
}

func TestPathForType(t *testing.T) {
	if got := PathForType("phrase"); got != "rime/keytao.phrase.dict.yaml" {
		t.Fatalf("unexpected path: %q", got)
	}
	if got := PathForType("unknown"); !strings.HasPrefix(got, "rime/") {
		t.Fatalf("unknown types should still land under rime/, got %q", got)
	}
}
