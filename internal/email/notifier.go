package email

import (
	"context"
	"log"
	"time"

	"keytao/api/internal/store"
)

// AdminDirectory lists the addresses that receive operational notifications.
type AdminDirectory interface {
	ListAdminEmails(ctx context.Context) ([]string, error)
}

// Notifier turns workflow events into emails. Every method is
// best-effort: sends run in a goroutine and failures are only logged,
// so a slow or broken SMTP server never blocks the review or sync path.
type Notifier struct {
	svc    *Service
	admins AdminDirectory
}

// NewNotifier creates a notifier. It is safe to construct with an
// unconfigured service; every event becomes a no-op then.
func NewNotifier(svc *Service, admins AdminDirectory) *Notifier {
	return &Notifier{svc: svc, admins: admins}
}

// BatchSubmitted notifies administrators that a batch needs review.
func (n *Notifier) BatchSubmitted(batch store.Batch) {
	if !n.svc.IsConfigured() {
		return
	}
	go func() {
		to, ok := n.adminRecipients()
		if !ok {
			return
		}
		if err := n.svc.SendBatchSubmitted(to, batch.Title, batch.UserName, batch.EditCount); err != nil {
			log.Printf("email: batch submitted notice: %v", err)
		}
	}()
}

// BatchReviewed notifies the batch creator of the review outcome.
// to is the creator's address; empty means the creator has no email on file.
func (n *Notifier) BatchReviewed(to string, batch store.Batch) {
	if !n.svc.IsConfigured() || to == "" {
		return
	}
	go func() {
		if err := n.svc.SendBatchReviewed(to, batch.Title, batch.Status, batch.ReviewNote); err != nil {
			log.Printf("email: batch reviewed notice: %v", err)
		}
	}()
}

// SyncCompleted notifies administrators that a sync task published its
// batches and opened a pull request.
func (n *Notifier) SyncCompleted(task store.SyncTask, batches []store.Batch) {
	if !n.svc.IsConfigured() {
		return
	}
	go func() {
		to, ok := n.adminRecipients()
		if !ok {
			return
		}
		if err := n.svc.SendSyncCompleted(to, task.GithubPrURL, len(batches), len(task.ProcessedFiles)); err != nil {
			log.Printf("email: sync completed notice: %v", err)
		}
	}()
}

// SyncFailed notifies administrators that a sync task gave up.
func (n *Notifier) SyncFailed(task store.SyncTask, reason string) {
	if !n.svc.IsConfigured() {
		return
	}
	go func() {
		to, ok := n.adminRecipients()
		if !ok {
			return
		}
		if err := n.svc.SendSyncFailed(to, task.ID, reason, task.Progress); err != nil {
			log.Printf("email: sync failed notice: %v", err)
		}
	}()
}

func (n *Notifier) adminRecipients() ([]string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	to, err := n.admins.ListAdminEmails(ctx)
	if err != nil {
		log.Printf("email: list admin recipients: %v", err)
		return nil, false
	}
	if len(to) == 0 {
		return nil, false
	}
	return to, true
}
