// Package dictsync publishes approved batches to the dictionary
// repository. A sync task converts its approved edits into full
// dictionary files, commits them in chunks to a dated branch and opens
// a pull request. Every chunk persists a checkpoint, so an interrupted
// task resumes from the last committed chunk instead of starting over.
package dictsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"keytao/api/internal/dictfile"
	"keytao/api/internal/store"
	"keytao/api/internal/util"
)

const (
	// DefaultChunkSize is how many dictionary files go into one commit.
	DefaultChunkSize = 5

	// maxChunksPerStep bounds the commits of a single Step call.
	maxChunksPerStep = 3

	// cleanupThreshold is the progress from which cancelling leaves
	// commits behind on the remote branch.
	cleanupThreshold = 70

	branchPrefix = "update-dict-"
)

var (
	ErrNothingToSync  = errors.New("no approved batches to sync")
	ErrTaskActive     = errors.New("another sync task is still active")
	ErrNotCancellable = errors.New("task is not pending or running")
	ErrNotRetryable   = errors.New("task is not failed or cancelled")
)

// errHalt reports that the task left the active states mid step, for
// example through a concurrent cancellation.
var errHalt = errors.New("sync task no longer active")

// Client is the dictionary repository the sync publishes to. The
// GitHub backend and the local git backend both implement it.
type Client interface {
	GetFileContent(ctx context.Context, branch, path string) (string, bool, error)
	GetOrCreateBranch(ctx context.Context, name string) error
	CommitFiles(ctx context.Context, branch string, files []store.SyncFile, message string) error
	CreatePullRequest(ctx context.Context, branch, title, body string) (int, string, error)
}

// TaskStore is the slice of the store the manager needs.
type TaskStore interface {
	CreateSyncTask(ctx context.Context, task store.SyncTask) error
	GetSyncTask(ctx context.Context, taskID string) (store.SyncTask, error)
	GetActiveSyncTask(ctx context.Context) (*store.SyncTask, error)
	UpdateSyncTask(ctx context.Context, task store.SyncTask) error
	CheckpointSyncTask(ctx context.Context, task store.SyncTask) (bool, error)
	CancelSyncTask(ctx context.Context, taskID string) (bool, error)
	ListApprovedUnsyncedBatches(ctx context.Context) ([]store.Batch, error)
	LinkBatchesToSyncTask(ctx context.Context, taskID string, batchIDs []string) error
	ListBatchesBySyncTask(ctx context.Context, taskID string) ([]store.Batch, error)
	ListEditsForSyncTask(ctx context.Context, taskID string) ([]store.Edit, error)
	MarkBatchesPublished(ctx context.Context, taskID string) error
}

// Archiver keeps a copy of every committed dictionary file for audit.
type Archiver interface {
	StoreSnapshot(ctx context.Context, taskID, path, content string) error
}

// Notifier is told when a task reaches a terminal state.
type Notifier interface {
	SyncCompleted(task store.SyncTask, batches []store.Batch)
	SyncFailed(task store.SyncTask, reason string)
}

// Manager runs the sync task state machine. All progress lives in the
// store; the manager itself is stateless apart from the mutex that
// keeps concurrent Step calls from interleaving.
type Manager struct {
	store     TaskStore
	client    Client
	archive   Archiver
	notifier  Notifier
	chunkSize int
	maxChunks int
	now       func() time.Time

	mu sync.Mutex
}

func NewManager(taskStore TaskStore, client Client, chunkSize int) *Manager {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Manager{
		store:     taskStore,
		client:    client,
		chunkSize: chunkSize,
		maxChunks: maxChunksPerStep,
		now:       time.Now,
	}
}

// SetArchiver enables snapshot archiving of committed files.
func (m *Manager) SetArchiver(archive Archiver) {
	m.archive = archive
}

// SetNotifier enables completion and failure notifications.
func (m *Manager) SetNotifier(notifier Notifier) {
	m.notifier = notifier
}

// CreateTask starts a new sync over every approved batch that is not
// yet linked to a task. Only one task may be active at a time.
func (m *Manager) CreateTask(ctx context.Context) (store.SyncTask, error) {
	active, err := m.store.GetActiveSyncTask(ctx)
	if err != nil {
		return store.SyncTask{}, err
	}
	if active != nil {
		return store.SyncTask{}, ErrTaskActive
	}

	batches, err := m.store.ListApprovedUnsyncedBatches(ctx)
	if err != nil {
		return store.SyncTask{}, err
	}
	if len(batches) == 0 {
		return store.SyncTask{}, ErrNothingToSync
	}

	task := store.SyncTask{
		ID:     util.NewID("sync"),
		Status: store.TaskStatusPending,
	}
	if err := m.store.CreateSyncTask(ctx, task); err != nil {
		return store.SyncTask{}, err
	}

	batchIDs := make([]string, 0, len(batches))
	for _, batch := range batches {
		batchIDs = append(batchIDs, batch.ID)
	}
	if err := m.store.LinkBatchesToSyncTask(ctx, task.ID, batchIDs); err != nil {
		return store.SyncTask{}, err
	}
	return task, nil
}

// Step advances the task by at most a few chunks and returns. The
// runner keeps calling Step until the task is terminal. Errors leave
// the stored checkpoint untouched, so the next call picks up exactly
// where this one stopped.
func (m *Manager) Step(ctx context.Context, taskID string) error {
	if !m.mu.TryLock() {
		return nil
	}
	defer m.mu.Unlock()

	task, err := m.store.GetSyncTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load sync task: %w", err)
	}
	if task.Status != store.TaskStatusPending && task.Status != store.TaskStatusRunning {
		return nil
	}

	if task.TotalItems == 0 {
		task, err = m.prepare(ctx, task)
		if errors.Is(err, errHalt) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	for i := 0; i < m.maxChunks && len(task.PendingFiles) > 0; i++ {
		// Re-read between chunks so a cancellation is observed at the
		// next chunk boundary.
		task, err = m.store.GetSyncTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("load sync task: %w", err)
		}
		if task.Status != store.TaskStatusPending && task.Status != store.TaskStatusRunning {
			return nil
		}
		task, err = m.commitChunk(ctx, task)
		if errors.Is(err, errHalt) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	if len(task.PendingFiles) > 0 {
		return nil
	}
	return m.finalize(ctx, task)
}

// prepare turns the task's approved edits into rendered dictionary
// files and stores them as the pending checkpoint.
func (m *Manager) prepare(ctx context.Context, task store.SyncTask) (store.SyncTask, error) {
	edits, err := m.store.ListEditsForSyncTask(ctx, task.ID)
	if err != nil {
		return task, fmt.Errorf("list task edits: %w", err)
	}
	if len(edits) == 0 {
		return task, m.fail(ctx, task, errors.New("no approved edits to publish"))
	}

	branch := task.GithubBranch
	if branch == "" {
		branch = branchPrefix + m.now().UTC().Format("2006-01-02")
	}

	files, err := m.renderFiles(ctx, branch, edits)
	if err != nil {
		return task, err
	}

	task.GithubBranch = branch
	task.PendingFiles = files
	task.ProcessedFiles = []string{}
	task.ProcessedItems = 0
	task.TotalItems = len(files)
	task.Progress = 0

	ok, err := m.store.CheckpointSyncTask(ctx, task)
	if err != nil {
		return task, err
	}
	if !ok {
		return task, errHalt
	}
	return task, nil
}

// renderFiles builds the full post-edit text of every dictionary file
// the edits touch. The current upstream content is fetched from the
// work branch when it exists (a resumed or retried task may already
// have commits there), otherwise from the default branch.
func (m *Manager) renderFiles(ctx context.Context, branch string, edits []store.Edit) ([]store.SyncFile, error) {
	byType := make(map[string][]store.Edit)
	for _, edit := range edits {
		byType[edit.Type] = append(byType[edit.Type], edit)
	}
	types := make([]string, 0, len(byType))
	for phraseType := range byType {
		types = append(types, phraseType)
	}
	sort.Slice(types, func(i, j int) bool {
		return dictfile.PathForType(types[i]) < dictfile.PathForType(types[j])
	})

	files := make([]store.SyncFile, 0, len(types))
	for _, phraseType := range types {
		path := dictfile.PathForType(phraseType)

		content, found, err := m.client.GetFileContent(ctx, branch, path)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", path, err)
		}
		if !found {
			content, _, err = m.client.GetFileContent(ctx, "", path)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", path, err)
			}
		}

		header, entries, err := dictfile.Parse(content)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if header.Name == "" {
			header.Name = dictfile.FileNameForType(phraseType)
		}
		if header.Sort == "" {
			header.Sort = "by_weight"
		}
		header.Version = m.now().UTC().Format("2006.01.02")

		for _, edit := range byType[phraseType] {
			entries = applyEdit(entries, edit)
		}
		dictfile.SortEntries(entries)

		rendered, err := dictfile.Render(header, entries)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", path, err)
		}
		files = append(files, store.SyncFile{Path: path, Content: rendered})
	}
	return files, nil
}

// commitChunk commits the next slice of pending files and persists the
// advanced checkpoint. The commit going through before the checkpoint
// write means a crash in between replays the chunk, which both
// backends tolerate.
func (m *Manager) commitChunk(ctx context.Context, task store.SyncTask) (store.SyncTask, error) {
	if task.Status == store.TaskStatusPending {
		started := m.now().UTC()
		task.Status = store.TaskStatusRunning
		task.StartedAt = &started
	}

	if err := m.client.GetOrCreateBranch(ctx, task.GithubBranch); err != nil {
		return task, fmt.Errorf("ensure branch %s: %w", task.GithubBranch, err)
	}

	n := m.chunkSize
	if n > len(task.PendingFiles) {
		n = len(task.PendingFiles)
	}
	files := task.PendingFiles[:n]
	if err := m.client.CommitFiles(ctx, task.GithubBranch, files, commitMessage(task.GithubBranch)); err != nil {
		return task, fmt.Errorf("commit chunk: %w", err)
	}

	for _, file := range files {
		task.ProcessedFiles = append(task.ProcessedFiles, file.Path)
	}
	task.PendingFiles = append([]store.SyncFile(nil), task.PendingFiles[n:]...)
	task.ProcessedItems += n
	task.Progress = commitProgress(task.ProcessedItems, task.TotalItems)

	ok, err := m.store.CheckpointSyncTask(ctx, task)
	if err != nil {
		return task, err
	}
	if !ok {
		return task, errHalt
	}

	if m.archive != nil {
		for _, file := range files {
			if err := m.archive.StoreSnapshot(ctx, task.ID, file.Path, file.Content); err != nil {
				log.Printf("sync: archive %s for task %s: %v", file.Path, task.ID, err)
			}
		}
	}
	return task, nil
}

// finalize opens the pull request and marks the task completed. A
// pull request failure is terminal; everything before it can be
// retried on the next tick.
func (m *Manager) finalize(ctx context.Context, task store.SyncTask) error {
	task, err := m.store.GetSyncTask(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("load sync task: %w", err)
	}
	if task.Status != store.TaskStatusPending && task.Status != store.TaskStatusRunning {
		return nil
	}

	batches, err := m.store.ListBatchesBySyncTask(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("list task batches: %w", err)
	}

	title := commitMessage(task.GithubBranch)
	number, url, err := m.client.CreatePullRequest(ctx, task.GithubBranch, title, pullRequestBody(task, batches))
	if err != nil {
		return m.fail(ctx, task, fmt.Errorf("create pull request: %w", err))
	}

	if err := m.store.MarkBatchesPublished(ctx, task.ID); err != nil {
		return fmt.Errorf("mark batches published: %w", err)
	}

	completed := m.now().UTC()
	task.Status = store.TaskStatusCompleted
	task.Progress = 100
	task.GithubPrNumber = number
	task.GithubPrURL = url
	task.CompletedAt = &completed
	task.Error = ""
	if err := m.store.UpdateSyncTask(ctx, task); err != nil {
		return fmt.Errorf("complete sync task: %w", err)
	}

	if m.notifier != nil {
		m.notifier.SyncCompleted(task, batches)
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, task store.SyncTask, cause error) error {
	completed := m.now().UTC()
	task.Status = store.TaskStatusFailed
	task.Error = cause.Error()
	task.CompletedAt = &completed
	if err := m.store.UpdateSyncTask(ctx, task); err != nil {
		return fmt.Errorf("mark sync task failed: %w", err)
	}
	if m.notifier != nil {
		m.notifier.SyncFailed(task, cause.Error())
	}
	return cause
}

// CancelResult reports whether commits already reached the remote
// branch, in which case the branch needs manual cleanup.
type CancelResult struct {
	Task         store.SyncTask
	NeedsCleanup bool
}

// Cancel stops an active task. A pending task cancels immediately; a
// running one observes the cancellation at its next chunk boundary.
func (m *Manager) Cancel(ctx context.Context, taskID string) (CancelResult, error) {
	task, err := m.store.GetSyncTask(ctx, taskID)
	if err != nil {
		return CancelResult{}, err
	}
	if task.Status != store.TaskStatusPending && task.Status != store.TaskStatusRunning {
		return CancelResult{}, ErrNotCancellable
	}

	ok, err := m.store.CancelSyncTask(ctx, taskID)
	if err != nil {
		return CancelResult{}, err
	}
	if !ok {
		return CancelResult{}, ErrNotCancellable
	}

	task, err = m.store.GetSyncTask(ctx, taskID)
	if err != nil {
		return CancelResult{}, err
	}
	return CancelResult{Task: task, NeedsCleanup: task.Progress >= cleanupThreshold}, nil
}

// Retry resets a failed or cancelled task back to pending. The batch
// associations stay; branch, pull request and file checkpoints are
// cleared so the next run recomputes them against current upstream.
func (m *Manager) Retry(ctx context.Context, taskID string) (store.SyncTask, error) {
	task, err := m.store.GetSyncTask(ctx, taskID)
	if err != nil {
		return store.SyncTask{}, err
	}
	if task.Status != store.TaskStatusFailed && task.Status != store.TaskStatusCancelled {
		return store.SyncTask{}, ErrNotRetryable
	}
	if active, err := m.store.GetActiveSyncTask(ctx); err != nil {
		return store.SyncTask{}, err
	} else if active != nil {
		return store.SyncTask{}, ErrTaskActive
	}

	task.Status = store.TaskStatusPending
	task.Progress = 0
	task.GithubBranch = ""
	task.GithubPrURL = ""
	task.GithubPrNumber = 0
	task.ProcessedItems = 0
	task.TotalItems = 0
	task.ProcessedFiles = nil
	task.PendingFiles = nil
	task.Error = ""
	task.StartedAt = nil
	task.CompletedAt = nil
	if err := m.store.UpdateSyncTask(ctx, task); err != nil {
		return store.SyncTask{}, err
	}
	return task, nil
}

// applyEdit folds one approved edit into the entry list of its file.
func applyEdit(entries []dictfile.Entry, edit store.Edit) []dictfile.Entry {
	switch edit.Action {
	case store.EditActionCreate:
		return dictfile.Merge(entries, []dictfile.Entry{{Word: edit.Word, Code: edit.Code, Weight: editWeight(edit, 0)}})
	case store.EditActionChange:
		oldWord := edit.OldWord
		if oldWord == "" {
			oldWord = edit.Word
		}
		carried := 0
		for _, entry := range entries {
			if entry.Word == oldWord && entry.Code == edit.Code {
				carried = entry.Weight
				break
			}
		}
		entries = dictfile.Remove(entries, oldWord, edit.Code)
		return dictfile.Merge(entries, []dictfile.Entry{{Word: edit.Word, Code: edit.Code, Weight: editWeight(edit, carried)}})
	case store.EditActionDelete:
		return dictfile.Remove(entries, edit.Word, edit.Code)
	}
	return entries
}

func editWeight(edit store.Edit, fallback int) int {
	if edit.Weight != nil {
		return *edit.Weight
	}
	return fallback
}

// commitProgress maps committed files onto 0..90; the last ten points
// belong to the pull request.
func commitProgress(processed, total int) int {
	if total == 0 {
		return 0
	}
	return processed * 90 / total
}

func commitMessage(branch string) string {
	return "Update dictionaries - " + strings.TrimPrefix(branch, branchPrefix)
}

func pullRequestBody(task store.SyncTask, batches []store.Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated dictionary update covering %d approved batch(es).\n\n", len(batches))
	totalEdits := 0
	for _, batch := range batches {
		fmt.Fprintf(&b, "- %s by %s (%d edits)\n", batch.Title, batch.UserName, batch.EditCount)
		totalEdits += batch.EditCount
	}
	fmt.Fprintf(&b, "\nEdits: %d\nFiles: %d\nTask: %s\n", totalEdits, task.TotalItems, task.ID)
	return b.String()
}
