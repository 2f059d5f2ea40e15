package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"keytao/api/internal/dictsync"
	"keytao/api/internal/store"
)

type fakeSyncManager struct {
	createFn func(ctx context.Context) (store.SyncTask, error)
	cancelFn func(ctx context.Context, taskID string) (dictsync.CancelResult, error)
	retryFn  func(ctx context.Context, taskID string) (store.SyncTask, error)
}

func (f *fakeSyncManager) CreateTask(ctx context.Context) (store.SyncTask, error) {
	if f.createFn != nil {
		return f.createFn(ctx)
	}
	return store.SyncTask{}, dictsync.ErrNothingToSync
}

func (f *fakeSyncManager) Cancel(ctx context.Context, taskID string) (dictsync.CancelResult, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, taskID)
	}
	return dictsync.CancelResult{}, dictsync.ErrNotCancellable
}

func (f *fakeSyncManager) Retry(ctx context.Context, taskID string) (store.SyncTask, error) {
	if f.retryFn != nil {
		return f.retryFn(ctx, taskID)
	}
	return store.SyncTask{}, dictsync.ErrNotRetryable
}

type fakeKicker struct {
	kicked []string
}

func (f *fakeKicker) Kick(taskID string) {
	f.kicked = append(f.kicked, taskID)
}

func TestStartSyncOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	kicker := &fakeKicker{}
	svc.syncer = &fakeSyncManager{
		createFn: func(context.Context) (store.SyncTask, error) {
			task := store.SyncTask{ID: "sync_1", Status: store.TaskStatusPending}
			fs.tasks[task.ID] = task
			return task, nil
		},
	}
	svc.runner = kicker
	server := NewHTTPServer(svc, "*")

	user := registerUser(t, svc, "taoist")
	admin := adminSession(t, fs, svc)

	// Starting a sync is an admin action.
	rr := doRequest(t, server, http.MethodPost, "/api/sync/tasks", user.Token, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("user start: expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/sync/tasks", admin.Token, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin start: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	task := decodePayload(t, rr)
	if task["id"] != "sync_1" || task["status"] != "pending" {
		t.Fatalf("unexpected task payload %v", task)
	}
	if len(kicker.kicked) != 1 || kicker.kicked[0] != "sync_1" {
		t.Errorf("expected the runner to be kicked for sync_1, got %v", kicker.kicked)
	}

	// Anyone signed in can watch the task list.
	rr = doRequest(t, server, http.MethodGet, "/api/sync/tasks", user.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	tasks, _ := decodePayload(t, rr)["tasks"].([]any)
	if len(tasks) != 1 {
		t.Errorf("expected one task, got %d", len(tasks))
	}
}

func TestStartSyncWithoutWorkOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.syncer = &fakeSyncManager{}
	svc.runner = &fakeKicker{}
	server := NewHTTPServer(svc, "*")
	admin := adminSession(t, fs, svc)

	rr := doRequest(t, server, http.MethodPost, "/api/sync/tasks", admin.Token, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["code"] != "NOTHING_TO_SYNC" {
		t.Fatalf("expected NOTHING_TO_SYNC, got %v", payload["code"])
	}
}

func TestSyncNotConfiguredOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	admin := adminSession(t, fs, svc)

	rr := doRequest(t, server, http.MethodPost, "/api/sync/tasks", admin.Token, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["code"] != "SYNC_UNAVAILABLE" {
		t.Fatalf("expected SYNC_UNAVAILABLE, got %v", payload["code"])
	}
}

func TestSyncTaskDetailOverHTTP(t *testing.T) {
	fs := newFakeStore()
	completed := time.Now()
	fs.tasks["sync_1"] = store.SyncTask{
		ID:             "sync_1",
		Status:         store.TaskStatusCompleted,
		Progress:       100,
		GithubBranch:   "update-dict-2025-08-25",
		GithubPrURL:    "https://github.com/keytao/dict/pull/42",
		GithubPrNumber: 42,
		ProcessedItems: 3,
		TotalItems:     3,
		CompletedAt:    &completed,
	}
	taskID := "sync_1"
	fs.batches["batch_1"] = store.Batch{ID: "batch_1", Title: "published", Status: store.BatchStatusPublished, SyncTaskID: &taskID}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	user := registerUser(t, svc, "taoist")

	rr := doRequest(t, server, http.MethodGet, "/api/sync/tasks/sync_1", user.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["pullRequestUrl"] != "https://github.com/keytao/dict/pull/42" {
		t.Errorf("expected the pull request url, got %v", payload["pullRequestUrl"])
	}
	if payload["pullRequestNumber"] != float64(42) {
		t.Errorf("expected pull request number 42, got %v", payload["pullRequestNumber"])
	}
	batches, _ := payload["batches"].([]any)
	if len(batches) != 1 {
		t.Fatalf("expected the linked batch, got %d", len(batches))
	}

	rr = doRequest(t, server, http.MethodGet, "/api/sync/tasks/sync_missing", user.Token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", rr.Code)
	}
}

func TestCancelAndRetrySyncOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	kicker := &fakeKicker{}
	svc.syncer = &fakeSyncManager{
		cancelFn: func(_ context.Context, taskID string) (dictsync.CancelResult, error) {
			return dictsync.CancelResult{
				Task:         store.SyncTask{ID: taskID, Status: store.TaskStatusCancelled, Progress: 80},
				NeedsCleanup: true,
			}, nil
		},
		retryFn: func(_ context.Context, taskID string) (store.SyncTask, error) {
			if taskID == "sync_running" {
				return store.SyncTask{}, dictsync.ErrNotRetryable
			}
			return store.SyncTask{ID: taskID, Status: store.TaskStatusPending}, nil
		},
	}
	svc.runner = kicker
	server := NewHTTPServer(svc, "*")
	admin := adminSession(t, fs, svc)

	rr := doRequest(t, server, http.MethodPost, "/api/sync/tasks/sync_1/cancel", admin.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["status"] != "cancelled" {
		t.Errorf("expected cancelled, got %v", payload["status"])
	}
	if payload["needsCleanup"] != true {
		t.Errorf("expected needsCleanup after 80%% progress, got %v", payload["needsCleanup"])
	}

	rr = doRequest(t, server, http.MethodPost, "/api/sync/tasks/sync_running/retry", admin.Token, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("retry running: expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["code"] != "NOT_RETRYABLE" {
		t.Fatalf("expected NOT_RETRYABLE, got %v", payload["code"])
	}

	rr = doRequest(t, server, http.MethodPost, "/api/sync/tasks/sync_1/retry", admin.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["status"] != "pending" {
		t.Errorf("expected pending after retry, got %v", payload["status"])
	}
	if len(kicker.kicked) != 1 || kicker.kicked[0] != "sync_1" {
		t.Errorf("expected the retried task to be kicked, got %v", kicker.kicked)
	}
}
