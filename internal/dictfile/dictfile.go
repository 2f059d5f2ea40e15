// Package dictfile reads and writes Rime dictionary files: a YAML
// front matter between "---" and "..." followed by tab separated
// entries, one "word<TAB>code<TAB>weight" per line.
package dictfile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"keytao/api/internal/store"
)

// Header is the YAML front matter of a dictionary file.
type Header struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Sort    string `yaml:"sort,omitempty"`
}

type Entry struct {
	Word   string
	Code   string
	Weight int
}

// fileNames maps a phrase type to its dictionary file, one file per
// type in the published scheme.
var fileNames = map[string]string{
	store.PhraseTypeSingle:     "keytao.single",
	store.PhraseTypePhrase:     "keytao.phrase",
	store.PhraseTypeSupplement: "keytao.supplement",
	store.PhraseTypeSymbol:     "keytao.symbol",
	store.PhraseTypeLink:       "keytao.link",
	store.PhraseTypeCSS:        "keytao.css",
	store.PhraseTypeCSSSingle:  "keytao.css_single",
	store.PhraseTypeEnglish:    "keytao.english",
}

func FileNameForType(phraseType string) string {
	if name, ok := fileNames[phraseType]; ok {
		return name
	}
	return "keytao.phrase"
}

// PathForType returns the repository path of the dictionary file for a
// phrase type, e.g. "rime/keytao.phrase.dict.yaml".
func PathForType(phraseType string) string {
	return "rime/" + FileNameForType(phraseType) + ".dict.yaml"
}

// Parse splits a dictionary file into its header and entries. Comment
// and blank lines are skipped, a missing weight column reads as zero.
func Parse(text string) (Header, []Entry, error) {
	var header Header
	entries := make([]Entry, 0)

	lines := strings.Split(text, "\n")
	headerLines := make([]string, 0)
	inHeader := false
	headerDone := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case !headerDone && !inHeader && strings.TrimSpace(trimmed) == "---":
			inHeader = true
		case inHeader && (strings.TrimSpace(trimmed) == "..." || strings.TrimSpace(trimmed) == "---"):
			inHeader = false
			headerDone = true
		case inHeader:
			headerLines = append(headerLines, trimmed)
		default:
			if strings.TrimSpace(trimmed) == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			fields := strings.Split(trimmed, "\t")
			if len(fields) < 2 {
				continue
			}
			entry := Entry{Word: fields[0], Code: fields[1]}
			if len(fields) >= 3 && fields[2] != "" {
				weight, err := strconv.Atoi(strings.TrimSpace(fields[2]))
				if err != nil {
					return Header{}, nil, fmt.Errorf("parse weight of %q: %w", fields[0], err)
				}
				entry.Weight = weight
			}
			entries = append(entries, entry)
		}
	}

	if len(headerLines) > 0 {
		if err := yaml.Unmarshal([]byte(strings.Join(headerLines, "\n")), &header); err != nil {
			return Header{}, nil, fmt.Errorf("parse dictionary header: %w", err)
		}
	}
	return header, entries, nil
}

// Merge unions updates into existing entries keyed by (word, code).
// Existing entries keep their position, updated ones take the new
// weight, new ones are appended in update order.
func Merge(existing, updates []Entry) []Entry {
	merged := make([]Entry, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, entry := range merged {
		index[entryKey(entry.Word, entry.Code)] = i
	}
	for _, update := range updates {
		if i, ok := index[entryKey(update.Word, update.Code)]; ok {
			merged[i] = update
			continue
		}
		index[entryKey(update.Word, update.Code)] = len(merged)
		merged = append(merged, update)
	}
	return merged
}

// Remove drops the entry at (word, code), if present.
func Remove(entries []Entry, word, code string) []Entry {
	kept := entries[:0]
	for _, entry := range entries {
		if entry.Word == word && entry.Code == code {
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

// SortEntries orders entries the way published files are laid out:
// code first, then descending weight, then word.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Code != entries[j].Code {
			return entries[i].Code < entries[j].Code
		}
		if entries[i].Weight != entries[j].Weight {
			return entries[i].Weight > entries[j].Weight
		}
		return entries[i].Word < entries[j].Word
	})
}

// Render writes the canonical file form. Output is deterministic for
// identical input, so re-rendering an unchanged dictionary produces an
// identical file.
func Render(header Header, entries []Entry) (string, error) {
	headerYAML, err := yaml.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("render dictionary header: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Rime dictionary\n# Maintained by the KeyTao dictionary service.\n\n---\n")
	b.Write(headerYAML)
	b.WriteString("...\n\n")
	for _, entry := range entries {
		b.WriteString(entry.Word)
		b.WriteByte('\t')
		b.WriteString(entry.Code)
		b.WriteByte('\t')
		b.WriteString(strconv.Itoa(entry.Weight))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func entryKey(word, code string) string {
	return word + "\x00" + code
}
