// Package email sends KeyTao workflow notifications via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	EnableTLS bool
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-keytao"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// BatchSubmittedData feeds the review-request template.
type BatchSubmittedData struct {
	AppName    string
	BatchTitle string
	UserName   string
	EditCount  int
}

// BatchReviewedData feeds the review-result template.
type BatchReviewedData struct {
	AppName    string
	BatchTitle string
	Decision   string
	ReviewNote string
}

// SyncCompletedData feeds the sync-success template.
type SyncCompletedData struct {
	AppName        string
	PullRequestURL string
	BatchCount     int
	FileCount      int
}

// SyncFailedData feeds the sync-failure template.
type SyncFailedData struct {
	AppName  string
	TaskID   string
	Progress int
	Reason   string
}

// SendBatchSubmitted tells reviewers a batch is waiting for review.
func (s *Service) SendBatchSubmitted(to []string, batchTitle, userName string, editCount int) error {
	data := BatchSubmittedData{
		AppName:    "KeyTao",
		BatchTitle: batchTitle,
		UserName:   userName,
		EditCount:  editCount,
	}

	subject := fmt.Sprintf("[KeyTao] Batch submitted for review: %s", batchTitle)
	html, err := renderTemplate(batchSubmittedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render batch submitted template: %w", err)
	}

	return s.SendHTMLEmail(to, subject, html)
}

// SendBatchReviewed tells the batch creator the review outcome.
// decision is "approved" or "rejected"; reviewNote may be empty.
func (s *Service) SendBatchReviewed(to, batchTitle, decision, reviewNote string) error {
	data := BatchReviewedData{
		AppName:    "KeyTao",
		BatchTitle: batchTitle,
		Decision:   decision,
		ReviewNote: reviewNote,
	}

	subject := fmt.Sprintf("[KeyTao] Your batch was %s: %s", decision, batchTitle)
	html, err := renderTemplate(batchReviewedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render batch reviewed template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendSyncCompleted reports a finished dictionary sync and its pull request.
func (s *Service) SendSyncCompleted(to []string, prURL string, batchCount, fileCount int) error {
	data := SyncCompletedData{
		AppName:        "KeyTao",
		PullRequestURL: prURL,
		BatchCount:     batchCount,
		FileCount:      fileCount,
	}

	subject := "[KeyTao] Dictionary sync completed"
	html, err := renderTemplate(syncCompletedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render sync completed template: %w", err)
	}

	return s.SendHTMLEmail(to, subject, html)
}

// SendSyncFailed reports a sync task that gave up, with the failure reason.
func (s *Service) SendSyncFailed(to []string, taskID, reason string, progress int) error {
	data := SyncFailedData{
		AppName:  "KeyTao",
		TaskID:   taskID,
		Progress: progress,
		Reason:   reason,
	}

	subject := "[KeyTao] Dictionary sync failed"
	html, err := renderTemplate(syncFailedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render sync failed template: %w", err)
	}

	return s.SendHTMLEmail(to, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const batchSubmittedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Batch submitted for review</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .detail { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Batch waiting for review</h2>

    <p>{{.UserName}} submitted a batch for review.</p>

    <div class="detail">
        <p><strong>Title:</strong> {{.BatchTitle}}</p>
        <p><strong>Edits:</strong> {{.EditCount}}</p>
    </div>

    <p>Please review the edits and approve or reject the batch.</p>

    <div class="footer">
        <p>You received this because you are a {{.AppName}} administrator.</p>
    </div>
</body>
</html>`

const batchReviewedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your batch was {{.Decision}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .note { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Batch {{.Decision}}</h2>

    <p>Your batch <strong>{{.BatchTitle}}</strong> was {{.Decision}} by a reviewer.</p>

    {{if .ReviewNote}}
    <div class="note">
        <strong>Reviewer note:</strong> {{.ReviewNote}}
    </div>
    {{end}}

    <p>Approved batches are published to the dictionary repository with the next sync.</p>

    <div class="footer">
        <p>You received this because you created the batch.</p>
    </div>
</body>
</html>`

const syncCompletedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Dictionary sync completed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Dictionary sync completed</h2>

    <p>{{.BatchCount}} batch(es) were published across {{.FileCount}} dictionary file(s).</p>

    <p>
        <a href="{{.PullRequestURL}}" class="button">View Pull Request</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.PullRequestURL}}</p>

    <div class="footer">
        <p>You received this because you are a {{.AppName}} administrator.</p>
    </div>
</body>
</html>`

const syncFailedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Dictionary sync failed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Dictionary sync failed</h2>

    <p>Sync task <strong>{{.TaskID}}</strong> stopped at {{.Progress}}% progress.</p>

    <div class="warning">
        <strong>Reason:</strong> {{.Reason}}
    </div>

    <p>The task can be retried from the sync dashboard once the cause is resolved.</p>

    <div class="footer">
        <p>You received this because you are a {{.AppName}} administrator.</p>
    </div>
</body>
</html>`
