package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"

	"keytao/api/internal/archive"
	"keytao/api/internal/conflict"
	"keytao/api/internal/export"
	"keytao/api/internal/rbac"
	"keytao/api/internal/search"
	"keytao/api/internal/store"
	"keytao/api/internal/util"
)

type EditInput struct {
	Action   string `json:"action"`
	Word     string `json:"word"`
	Code     string `json:"code"`
	Type     string `json:"type"`
	Weight   *int   `json:"weight"`
	OldWord  string `json:"oldWord"`
	PhraseID string `json:"phraseId"`
	Remark   string `json:"remark"`
}

var codeRe = regexp.MustCompile(`^[a-z;,./]{1,6}$`)

var phraseTypes = map[string]struct{}{
	store.PhraseTypeSingle:     {},
	store.PhraseTypePhrase:     {},
	store.PhraseTypeSupplement: {},
	store.PhraseTypeSymbol:     {},
	store.PhraseTypeLink:       {},
	store.PhraseTypeCSS:        {},
	store.PhraseTypeCSSSingle:  {},
	store.PhraseTypeEnglish:    {},
}

func (s *Service) CreateBatch(ctx context.Context, session Session, title, issueID string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Batch title is required", nil)
	}

	batch := store.Batch{
		ID:     util.NewID("batch"),
		Title:  title,
		Status: store.BatchStatusDraft,
		UserID: session.UserID,
	}
	if issueID = strings.TrimSpace(issueID); issueID != "" {
		issue, err := s.store.GetIssue(ctx, issueID)
		if err != nil {
			return nil, err
		}
		if issue == nil {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Issue not found", nil)
		}
		batch.IssueID = &issueID
	}

	if err := s.store.InsertBatch(ctx, batch); err != nil {
		return nil, err
	}
	stored, err := s.store.GetBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, sql.ErrNoRows
	}
	return batchPayload(*stored), nil
}

func (s *Service) ListBatches(ctx context.Context, session Session, status string, mine bool) (map[string]any, error) {
	filter := store.BatchFilter{Status: status}
	if mine {
		filter.UserID = session.UserID
	}
	batches, err := s.store.ListBatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(batches))
	for _, batch := range batches {
		items = append(items, batchPayload(batch))
	}
	return map[string]any{"batches": items}, nil
}

func (s *Service) GetBatch(ctx context.Context, batchID string) (map[string]any, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
	}
	edits, err := s.store.ListEditsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	editItems := make([]map[string]any, 0, len(edits))
	for _, edit := range edits {
		editItems = append(editItems, editPayload(edit))
	}
	payload := batchPayload(*batch)
	payload["edits"] = editItems
	return payload, nil
}

func (s *Service) AddEdit(ctx context.Context, session Session, batchID string, input EditInput) (map[string]any, error) {
	batch, err := s.ownedBatch(ctx, session, batchID)
	if err != nil {
		return nil, err
	}
	if !batchEditable(batch.Status) {
		return nil, domainError(http.StatusConflict, "BATCH_NOT_EDITABLE", "Edits can only change while the batch is draft or rejected", nil)
	}

	edit, err := buildEdit(session, batchID, input)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertEdit(ctx, edit); err != nil {
		return nil, err
	}

	// The store assigns the position, so read the row back.
	edits, err := s.store.ListEditsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for _, stored := range edits {
		if stored.ID == edit.ID {
			return editPayload(stored), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *Service) RemoveEdit(ctx context.Context, session Session, batchID, editID string) error {
	batch, err := s.ownedBatch(ctx, session, batchID)
	if err != nil {
		return err
	}
	if !batchEditable(batch.Status) {
		return domainError(http.StatusConflict, "BATCH_NOT_EDITABLE", "Edits can only change while the batch is draft or rejected", nil)
	}
	ok, err := s.store.DeleteEdit(ctx, batchID, editID)
	if err != nil {
		return err
	}
	if !ok {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Edit not found", nil)
	}
	return nil
}

func (s *Service) CheckBatch(ctx context.Context, batchID string) (map[string]any, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
	}
	edits, err := s.store.ListEditsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	results, err := s.checker.CheckBatch(ctx, edits)
	if err != nil {
		return nil, err
	}

	blocking := 0
	items := make([]map[string]any, 0, len(results))
	for _, res := range results {
		if res.Verdict.Blocking() {
			blocking++
		}
		items = append(items, verdictPayload(res))
	}
	return map[string]any{
		"batchId":  batch.ID,
		"results":  items,
		"total":    len(items),
		"blocking": blocking,
	}, nil
}

func (s *Service) SubmitBatch(ctx context.Context, session Session, batchID string) (map[string]any, error) {
	batch, err := s.ownedBatch(ctx, session, batchID)
	if err != nil {
		return nil, err
	}
	if !batchEditable(batch.Status) {
		return nil, domainError(http.StatusConflict, "BATCH_NOT_EDITABLE", "Only draft or rejected batches can be submitted", nil)
	}
	edits, err := s.store.ListEditsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "EMPTY_BATCH", "Batch has no edits", nil)
	}
	results, err := s.checker.CheckBatch(ctx, edits)
	if err != nil {
		return nil, err
	}
	if details := blockingDetails(results); len(details) > 0 {
		return nil, domainError(http.StatusConflict, "UNRESOLVED_CONFLICTS", "Resolve the conflicts before submitting", details)
	}

	ok, err := s.store.UpdateBatchStatus(ctx, batchID, batch.Status, store.BatchStatusSubmitted, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusConflict, "STATE_CHANGED", "Batch changed state, reload and retry", nil)
	}

	updated, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, sql.ErrNoRows
	}
	if s.notifier != nil {
		s.notifier.BatchSubmitted(*updated)
	}
	return batchPayload(*updated), nil
}

func (s *Service) WithdrawBatch(ctx context.Context, session Session, batchID string) (map[string]any, error) {
	if _, err := s.ownedBatch(ctx, session, batchID); err != nil {
		return nil, err
	}
	ok, err := s.store.UpdateBatchStatus(ctx, batchID, store.BatchStatusSubmitted, store.BatchStatusDraft, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusConflict, "NOT_SUBMITTED", "Only submitted batches can be withdrawn", nil)
	}
	updated, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, sql.ErrNoRows
	}
	return batchPayload(*updated), nil
}

// ApproveBatch re-checks the batch against the current dictionary,
// applies every edit in one transaction and queues the batch for the
// next sync run.
func (s *Service) ApproveBatch(ctx context.Context, session Session, batchID, note string) (map[string]any, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
	}
	if batch.Status != store.BatchStatusSubmitted {
		return nil, domainError(http.StatusConflict, "NOT_SUBMITTED", "Only submitted batches can be approved", nil)
	}

	edits, err := s.store.ListEditsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "EMPTY_BATCH", "Batch has no edits", nil)
	}
	results, err := s.checker.CheckBatch(ctx, edits)
	if err != nil {
		return nil, err
	}
	if details := blockingDetails(results); len(details) > 0 {
		return nil, domainError(http.StatusConflict, "UNRESOLVED_CONFLICTS", "The dictionary changed since submission, the conflicts must be resolved first", details)
	}

	changes, err := s.buildChanges(ctx, edits, results)
	if err != nil {
		return nil, err
	}
	if err := s.store.ApplyBatchApproval(ctx, batchID, strings.TrimSpace(note), changes); err != nil {
		return nil, err
	}
	s.indexBatchChanges(ctx, changes, results)

	updated, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, sql.ErrNoRows
	}

	if batch.IssueID != nil {
		comment := store.IssueComment{
			ID:      util.NewID("cmt"),
			IssueID: *batch.IssueID,
			UserID:  session.UserID,
			Body:    fmt.Sprintf("Batch %q was approved and will be published with the next dictionary sync.", batch.Title),
		}
		if err := s.store.InsertIssueComment(ctx, comment); err != nil {
			log.Printf("app: comment on issue %s after approval: %v", *batch.IssueID, err)
		}
	}
	if s.notifier != nil {
		if creator, err := s.store.GetUserByID(ctx, batch.UserID); err == nil {
			s.notifier.BatchReviewed(creator.Email, *updated)
		}
	}
	return batchPayload(*updated), nil
}

func (s *Service) RejectBatch(ctx context.Context, session Session, batchID, note string) (map[string]any, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "A review note explaining the rejection is required", nil)
	}
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
	}

	ok, err := s.store.UpdateBatchStatus(ctx, batchID, store.BatchStatusSubmitted, store.BatchStatusRejected, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusConflict, "NOT_SUBMITTED", "Only submitted batches can be rejected", nil)
	}

	updated, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, sql.ErrNoRows
	}
	if s.notifier != nil {
		if creator, err := s.store.GetUserByID(ctx, batch.UserID); err == nil {
			s.notifier.BatchReviewed(creator.Email, *updated)
		}
	}
	return batchPayload(*updated), nil
}

func (s *Service) DeleteBatch(ctx context.Context, session Session, batchID string) error {
	batch, err := s.ownedBatch(ctx, session, batchID)
	if err != nil {
		return err
	}
	if !batchEditable(batch.Status) {
		return domainError(http.StatusConflict, "BATCH_NOT_EDITABLE", "Only draft or rejected batches can be deleted", nil)
	}
	ok, err := s.store.DeleteBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !ok {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
	}
	return nil
}

func (s *Service) ExportBatch(ctx context.Context, batchID, format string, includeVerdicts bool) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	var f export.Format
	switch format {
	case "pdf", "":
		f = export.FormatPDF
	case "docx":
		f = export.FormatDOCX
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Format must be pdf or docx", nil)
	}
	return s.exporter.Export(ctx, export.Request{
		BatchID:         batchID,
		Format:          f,
		IncludeVerdicts: includeVerdicts,
	})
}

// ---- sync tasks ----

func (s *Service) StartSync(ctx context.Context) (map[string]any, error) {
	if s.syncer == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "Dictionary sync is not configured", nil)
	}
	task, err := s.syncer.CreateTask(ctx)
	if err != nil {
		return nil, err
	}
	if s.runner != nil {
		s.runner.Kick(task.ID)
	}
	return syncTaskPayload(task), nil
}

func (s *Service) ListSyncTasks(ctx context.Context) (map[string]any, error) {
	tasks, err := s.store.ListSyncTasks(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, syncTaskPayload(task))
	}
	return map[string]any{"tasks": items}, nil
}

func (s *Service) GetSyncTask(ctx context.Context, taskID string) (map[string]any, error) {
	task, err := s.store.GetSyncTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	batches, err := s.store.ListBatchesBySyncTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	batchItems := make([]map[string]any, 0, len(batches))
	for _, batch := range batches {
		batchItems = append(batchItems, batchPayload(batch))
	}
	payload := syncTaskPayload(task)
	payload["batches"] = batchItems
	return payload, nil
}

func (s *Service) CancelSync(ctx context.Context, taskID string) (map[string]any, error) {
	if s.syncer == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "Dictionary sync is not configured", nil)
	}
	res, err := s.syncer.Cancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	payload := syncTaskPayload(res.Task)
	payload["needsCleanup"] = res.NeedsCleanup
	return payload, nil
}

func (s *Service) RetrySync(ctx context.Context, taskID string) (map[string]any, error) {
	if s.syncer == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "Dictionary sync is not configured", nil)
	}
	task, err := s.syncer.Retry(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if s.runner != nil {
		s.runner.Kick(task.ID)
	}
	return syncTaskPayload(task), nil
}

func (s *Service) SyncArtifacts(ctx context.Context, taskID string) (map[string]any, error) {
	if _, err := s.store.GetSyncTask(ctx, taskID); err != nil {
		return nil, err
	}
	if s.archives == nil {
		return map[string]any{"artifacts": []archive.Snapshot{}}, nil
	}
	snapshots, err := s.archives.ListSnapshots(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"artifacts": snapshots}, nil
}

// ---- helpers ----

func (s *Service) ownedBatch(ctx context.Context, session Session, batchID string) (*store.Batch, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
	}
	if batch.UserID != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not your batch", nil)
	}
	return batch, nil
}

func batchEditable(status string) bool {
	return status == store.BatchStatusDraft || status == store.BatchStatusRejected
}

func buildEdit(session Session, batchID string, input EditInput) (store.Edit, error) {
	action := strings.TrimSpace(input.Action)
	word := strings.TrimSpace(input.Word)
	code := strings.TrimSpace(input.Code)
	phraseType := strings.TrimSpace(input.Type)
	oldWord := strings.TrimSpace(input.OldWord)

	switch action {
	case store.EditActionCreate, store.EditActionChange, store.EditActionDelete:
	default:
		return store.Edit{}, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Action must be create, change or delete", nil)
	}
	if word == "" {
		return store.Edit{}, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Word is required", nil)
	}
	if !codeRe.MatchString(code) {
		return store.Edit{}, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Code must be 1 to 6 characters from a-z ; , . /", nil)
	}
	if _, ok := phraseTypes[phraseType]; !ok {
		return store.Edit{}, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Unknown phrase type", nil)
	}
	if action == store.EditActionChange && oldWord == "" {
		return store.Edit{}, domainError(http.StatusUnprocessableEntity, "VALIDATION", "A change needs the word it replaces", nil)
	}
	if input.Weight != nil && *input.Weight < 0 {
		return store.Edit{}, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Weight cannot be negative", nil)
	}

	edit := store.Edit{
		ID:      util.NewID("edit"),
		BatchID: batchID,
		UserID:  session.UserID,
		Action:  action,
		Word:    word,
		Code:    code,
		Type:    phraseType,
		Weight:  input.Weight,
		OldWord: oldWord,
		Remark:  strings.TrimSpace(input.Remark),
		Status:  "pending",
	}
	if id := strings.TrimSpace(input.PhraseID); id != "" {
		edit.PhraseID = &id
	}
	return edit, nil
}

func blockingDetails(results []conflict.Result) []map[string]any {
	details := make([]map[string]any, 0)
	for _, res := range results {
		if res.Verdict.Blocking() {
			details = append(details, map[string]any{
				"editId": res.EditID,
				"index":  res.Index,
				"impact": res.Verdict.Impact,
			})
		}
	}
	return details
}

// buildChanges resolves edits into phrase table operations. Creates get
// a fresh phrase ID and the stacked weight from the conflict check;
// changes keep the stored weight unless the edit sets one.
func (s *Service) buildChanges(ctx context.Context, edits []store.Edit, results []conflict.Result) ([]store.PhraseChange, error) {
	changes := make([]store.PhraseChange, 0, len(edits))
	for i, edit := range edits {
		change := store.PhraseChange{
			EditID:  edit.ID,
			Action:  edit.Action,
			Word:    edit.Word,
			Code:    edit.Code,
			Type:    edit.Type,
			OldWord: edit.OldWord,
			UserID:  edit.UserID,
			Remark:  edit.Remark,
		}
		if edit.PhraseID != nil {
			change.PhraseID = *edit.PhraseID
		}

		switch edit.Action {
		case store.EditActionCreate:
			change.PhraseID = util.NewID("phrase")
			switch {
			case edit.Weight != nil:
				change.Weight = *edit.Weight
			case results[i].Verdict.SuggestedWeight != nil:
				change.Weight = *results[i].Verdict.SuggestedWeight
			default:
				change.Weight = conflict.BaseWeight(edit.Type)
			}
		case store.EditActionChange:
			if edit.Weight != nil {
				change.Weight = *edit.Weight
				break
			}
			current, err := s.store.GetPhraseByWordCode(ctx, edit.OldWord, edit.Code)
			if err != nil {
				return nil, err
			}
			if current == nil && edit.PhraseID != nil {
				current, err = s.store.GetPhraseByID(ctx, *edit.PhraseID)
				if err != nil {
					return nil, err
				}
			}
			if current != nil {
				change.Weight = current.Weight
			} else {
				change.Weight = conflict.BaseWeight(edit.Type)
			}
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// indexBatchChanges pushes the applied rows into the search index.
// Failures only cost index freshness, never the approval.
func (s *Service) indexBatchChanges(ctx context.Context, changes []store.PhraseChange, results []conflict.Result) {
	if s.searcher == nil {
		return
	}
	for i, change := range changes {
		switch change.Action {
		case store.EditActionCreate:
			s.searcher.IndexPhrase(search.PhraseRecord{
				ID:     change.PhraseID,
				Word:   change.Word,
				Code:   change.Code,
				Type:   change.Type,
				Weight: change.Weight,
				Status: "finish",
			})
		case store.EditActionChange:
			phrase, err := s.store.GetPhraseByWordCode(ctx, change.Word, change.Code)
			if err != nil || phrase == nil {
				continue
			}
			s.searcher.IndexPhrase(search.PhraseRecord{
				ID:     phrase.ID,
				Word:   phrase.Word,
				Code:   phrase.Code,
				Type:   phrase.Type,
				Weight: phrase.Weight,
				Status: phrase.Status,
			})
		case store.EditActionDelete:
			id := change.PhraseID
			if id == "" && results[i].Verdict.CurrentPhrase != nil {
				id = results[i].Verdict.CurrentPhrase.ID
			}
			if id != "" {
				s.searcher.DeletePhrase(id)
			}
		}
	}
}

// ---- payloads ----

func batchPayload(batch store.Batch) map[string]any {
	payload := map[string]any{
		"id":         batch.ID,
		"title":      batch.Title,
		"status":     batch.Status,
		"userId":     batch.UserID,
		"userName":   batch.UserName,
		"reviewNote": batch.ReviewNote,
		"editCount":  batch.EditCount,
		"createdAt":  batch.CreatedAt,
		"updatedAt":  batch.UpdatedAt,
	}
	if batch.IssueID != nil {
		payload["issueId"] = *batch.IssueID
	}
	if batch.SyncTaskID != nil {
		payload["syncTaskId"] = *batch.SyncTaskID
	}
	return payload
}

func editPayload(edit store.Edit) map[string]any {
	payload := map[string]any{
		"id":        edit.ID,
		"batchId":   edit.BatchID,
		"position":  edit.Position,
		"action":    edit.Action,
		"word":      edit.Word,
		"code":      edit.Code,
		"type":      edit.Type,
		"oldWord":   edit.OldWord,
		"remark":    edit.Remark,
		"status":    edit.Status,
		"createdAt": edit.CreatedAt,
	}
	if edit.Weight != nil {
		payload["weight"] = *edit.Weight
	}
	if edit.PhraseID != nil {
		payload["phraseId"] = *edit.PhraseID
	}
	return payload
}

func verdictPayload(res conflict.Result) map[string]any {
	verdict := res.Verdict
	suggestions := make([]map[string]any, 0, len(verdict.Suggestions))
	for _, sg := range verdict.Suggestions {
		suggestions = append(suggestions, map[string]any{"kind": sg.Kind, "message": sg.Message})
	}
	payload := map[string]any{
		"index":       res.Index,
		"editId":      res.EditID,
		"hasConflict": verdict.HasConflict,
		"blocking":    verdict.Blocking(),
		"impact":      verdict.Impact,
		"suggestions": suggestions,
	}
	if verdict.CurrentPhrase != nil {
		payload["currentPhrase"] = phrasePayload(*verdict.CurrentPhrase)
	}
	if verdict.SuggestedWeight != nil {
		payload["suggestedWeight"] = *verdict.SuggestedWeight
	}
	return payload
}

func syncTaskPayload(task store.SyncTask) map[string]any {
	payload := map[string]any{
		"id":             task.ID,
		"status":         task.Status,
		"progress":       task.Progress,
		"branch":         task.GithubBranch,
		"processedItems": task.ProcessedItems,
		"totalItems":     task.TotalItems,
		"error":          task.Error,
		"createdAt":      task.CreatedAt,
		"updatedAt":      task.UpdatedAt,
	}
	if task.GithubPrURL != "" {
		payload["pullRequestUrl"] = task.GithubPrURL
		payload["pullRequestNumber"] = task.GithubPrNumber
	}
	if task.StartedAt != nil {
		payload["startedAt"] = *task.StartedAt
	}
	if task.CompletedAt != nil {
		payload["completedAt"] = *task.CompletedAt
	}
	return payload
}
