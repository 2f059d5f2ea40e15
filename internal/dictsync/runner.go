package dictsync

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"keytao/api/internal/store"
)

// stepTimeout bounds one Step invocation end to end.
const stepTimeout = 2 * time.Minute

// Runner drives the active sync task. A cron schedule resumes
// whatever task is active, so a restarted process picks up an
// interrupted sync without any operator action. Kick pushes a freshly
// created or retried task forward immediately instead of waiting for
// the next tick.
type Runner struct {
	manager  *Manager
	store    TaskStore
	schedule string
	cron     *cron.Cron
	kicks    chan string
	done     chan struct{}
}

func NewRunner(manager *Manager, taskStore TaskStore, schedule string) *Runner {
	return &Runner{
		manager:  manager,
		store:    taskStore,
		schedule: schedule,
		cron:     cron.New(),
		kicks:    make(chan string, 1),
		done:     make(chan struct{}),
	}
}

// Start registers the schedule and launches the kick loop.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.tick); err != nil {
		return err
	}
	r.cron.Start()
	go r.kickLoop()
	return nil
}

// Stop waits for a running tick to finish, then shuts down.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	close(r.done)
}

// Kick requests immediate processing of the task. Duplicate kicks
// collapse; the scheduled tick covers anything dropped here.
func (r *Runner) Kick(taskID string) {
	select {
	case r.kicks <- taskID:
	default:
	}
}

func (r *Runner) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	task, err := r.store.GetActiveSyncTask(ctx)
	if err != nil {
		log.Printf("sync: look up active task: %v", err)
		return
	}
	if task == nil {
		return
	}
	if err := r.manager.Step(ctx, task.ID); err != nil {
		log.Printf("sync: task %s: %v", task.ID, err)
	}
}

func (r *Runner) kickLoop() {
	for {
		select {
		case <-r.done:
			return
		case taskID := <-r.kicks:
			r.drive(taskID)
		}
	}
}

// drive steps the task until it reaches a terminal state. On error it
// gives up and leaves the rest to the scheduled ticks.
func (r *Runner) drive(taskID string) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
		err := r.manager.Step(ctx, taskID)
		cancel()
		if err != nil {
			log.Printf("sync: task %s: %v", taskID, err)
			return
		}

		task, err := r.store.GetSyncTask(context.Background(), taskID)
		if err != nil {
			log.Printf("sync: task %s: %v", taskID, err)
			return
		}
		switch task.Status {
		case store.TaskStatusPending, store.TaskStatusRunning:
		default:
			return
		}

		select {
		case <-r.done:
			return
		case <-time.After(time.Second):
		}
	}
}
