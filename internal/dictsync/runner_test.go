package dictsync

import (
	"context"
	"testing"
	"time"

	"keytao/api/internal/store"
)

func TestTickAdvancesActiveTask(t *testing.T) {
	st := newFakeStore()
	st.addBatch(approvedBatch("batch_1", "words"),
		approvedEdit("edit_1", store.EditActionCreate, "你好", "nihk", store.PhraseTypePhrase, intPtr(100)),
	)
	m := newTestManager(st, newFakeClient(), 5)
	r := NewRunner(m, st, "@every 1m")

	task, err := m.CreateTask(context.Background())
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	r.tick()

	got, err := st.GetSyncTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetSyncTask() error = %v", err)
	}
	if got.Status != store.TaskStatusCompleted {
		t.Fatalf("status after tick = %s, want completed (error %q)", got.Status, got.Error)
	}
}

func TestTickIsNoOpWithoutActiveTask(t *testing.T) {
	st := newFakeStore()
	client := newFakeClient()
	r := NewRunner(newTestManager(st, client, 5), st, "@every 1m")

	r.tick()

	if len(client.commits) != 0 {
		t.Fatalf("tick without a task must not commit, got %d commits", len(client.commits))
	}
}

func TestKickCollapsesDuplicates(t *testing.T) {
	st := newFakeStore()
	r := NewRunner(newTestManager(st, newFakeClient(), 5), st, "@every 1m")

	r.Kick("sync_1")
	r.Kick("sync_2")
	r.Kick("sync_3")

	if len(r.kicks) != 1 {
		t.Fatalf("pending kicks = %d, want 1", len(r.kicks))
	}
	if got := <-r.kicks; got != "sync_1" {
		t.Fatalf("kept kick = %q, want the first one", got)
	}
}

func TestKickDrivesTaskToCompletion(t *testing.T) {
	st := newFakeStore()
	st.addBatch(approvedBatch("batch_1", "words"),
		approvedEdit("edit_1", store.EditActionCreate, "你好", "nihk", store.PhraseTypePhrase, intPtr(100)),
	)
	m := newTestManager(st, newFakeClient(), 5)
	// A schedule far in the future so only the kick moves the task.
	r := NewRunner(m, st, "@every 1h")
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	task, err := m.CreateTask(context.Background())
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	r.Kick(task.ID)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.GetSyncTask(context.Background(), task.ID)
		if err != nil {
			t.Fatalf("GetSyncTask() error = %v", err)
		}
		if got.Status == store.TaskStatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("kicked task never completed")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	st := newFakeStore()
	r := NewRunner(newTestManager(st, newFakeClient(), 5), st, "not a schedule")

	if err := r.Start(); err == nil {
		t.Fatalf("Start() must reject an unparsable schedule")
	}
}
