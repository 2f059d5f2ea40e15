package export

import (
	"context"
	"fmt"
	"strconv"

	"keytao/api/internal/conflict"
	"keytao/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetBatch(ctx context.Context, batchID string) (*store.Batch, error)
	ListEditsByBatch(ctx context.Context, batchID string) ([]store.Edit, error)
}

// Checker runs the conflict check so the report can show a verdict per edit.
type Checker interface {
	CheckBatch(ctx context.Context, edits []store.Edit) ([]conflict.Result, error)
}

// Service provides batch report export functionality
type Service struct {
	store   DataStore
	checker Checker
}

// NewService creates a new export service
func NewService(store DataStore, checker Checker) *Service {
	return &Service{store: store, checker: checker}
}

// Export generates a batch report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	data, err := s.buildReport(ctx, req)
	if err != nil {
		return nil, err
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(ctx, html, data.Title)
	case FormatDOCX:
		return exportDOCX(ctx, html, data.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// buildReport loads the batch, its edits and optionally the conflict
// verdicts, and flattens everything into template rows.
func (s *Service) buildReport(ctx context.Context, req Request) (TemplateData, error) {
	batch, err := s.store.GetBatch(ctx, req.BatchID)
	if err != nil {
		return TemplateData{}, fmt.Errorf("get batch: %w", err)
	}
	if batch == nil {
		return TemplateData{}, ErrBatchNotFound
	}

	edits, err := s.store.ListEditsByBatch(ctx, req.BatchID)
	if err != nil {
		return TemplateData{}, fmt.Errorf("list edits: %w", err)
	}

	data := TemplateData{
		Title:      batch.Title,
		BatchID:    batch.ID,
		Author:     batch.UserName,
		Status:     batch.Status,
		ReviewNote: batch.ReviewNote,
		CreatedAt:  batch.CreatedAt,
		Edits:      make([]TemplateEdit, 0, len(edits)),
	}

	var verdicts map[string]conflict.Verdict
	if req.IncludeVerdicts && s.checker != nil && len(edits) > 0 {
		results, err := s.checker.CheckBatch(ctx, edits)
		if err != nil {
			return TemplateData{}, fmt.Errorf("check batch: %w", err)
		}
		verdicts = make(map[string]conflict.Verdict, len(results))
		for _, r := range results {
			verdicts[r.EditID] = r.Verdict
		}
		data.HasVerdicts = true
	}

	for _, e := range edits {
		row := TemplateEdit{
			Position: e.Position,
			Action:   e.Action,
			Word:     e.Word,
			Code:     e.Code,
			Type:     e.Type,
			Weight:   "auto",
		}
		if e.Action == store.EditActionChange && e.OldWord != "" && e.OldWord != e.Word {
			row.Word = fmt.Sprintf("%s (was %s)", e.Word, e.OldWord)
		}
		if e.Action == store.EditActionDelete {
			row.Weight = "-"
		} else if e.Weight != nil {
			row.Weight = strconv.Itoa(*e.Weight)
		}

		if data.HasVerdicts {
			v := verdicts[e.ID]
			switch {
			case v.Blocking():
				row.Check = v.Impact
				row.Conflict = true
				data.ConflictCount++
			case v.HasConflict:
				row.Check = v.Impact + " (resolved in batch)"
			default:
				row.Check = "ok"
			}
			if e.Weight == nil && e.Action == store.EditActionCreate && v.SuggestedWeight != nil {
				row.Weight = fmt.Sprintf("auto (%d)", *v.SuggestedWeight)
			}
		}

		data.Edits = append(data.Edits, row)
	}
	data.EditCount = len(data.Edits)

	return data, nil
}
