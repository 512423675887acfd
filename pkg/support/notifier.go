/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package support

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/archive"
	"github.com/ma12/companion-api/pkg/audit"
	"github.com/ma12/companion-api/pkg/mail"
	"github.com/ma12/companion-api/pkg/metrics"
)

const (
	taskPrefix   = "support-form-"
	brandingName = "MA12"
	// markTimeout bounds the email_sent update after a successful send
	markTimeout = 5 * time.Second
)

// TaskID is the queue identity of a submission's notification.
func TaskID(id int64) string {
	return taskPrefix + strconv.FormatInt(id, 10)
}

func parseTaskID(taskID string) (int64, bool) {
	raw, ok := strings.CutPrefix(taskID, taskPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

// Notifier renders and sends the notification of one submission.
type Notifier struct {
	repo      Repository
	sender    mail.Sender
	mailboxes Mailboxes
	archive   archive.Store
	prefix    string
	auditor   *audit.Manager
	now       func() time.Time
	log       *zap.SugaredLogger
}

func NewNotifier(repo Repository, sender mail.Sender, mailboxes Mailboxes, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		repo:      repo,
		sender:    sender,
		mailboxes: mailboxes,
		archive:   archive.Nop{},
		now:       time.Now,
		log:       log.Named("support-notifier"),
	}
}

// WithArchive keeps a copy of every rendered body under prefix.
func (n *Notifier) WithArchive(store archive.Store, prefix string) *Notifier {
	n.archive = store
	n.prefix = prefix
	return n
}

func (n *Notifier) WithAudit(m *audit.Manager) *Notifier {
	n.auditor = m
	return n
}

func (n *Notifier) WithClock(now func() time.Time) *Notifier {
	n.now = now
	return n
}

// Task binds Deliver to a submission id for the mail queue.
func (n *Notifier) Task(id int64) mail.TaskFunc {
	return func(ctx context.Context) error {
		return n.Deliver(ctx, id)
	}
}

// Deliver sends the notification for submission id unless it was already sent.
// The submission is re-read on every attempt so redelivery and resends are no-ops once the flag is set.
func (n *Notifier) Deliver(ctx context.Context, id int64) error {
	sub, err := n.repo.GetSubmission(ctx, id)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", id, err)
	}
	if sub.EmailSent {
		n.log.Infow("Support form email already sent, skipping", "supportFormID", id, "sentAt", sub.EmailSentAt)
		return nil
	}

	form := formFor(sub.Type)
	to := form.mailbox(n.mailboxes)
	if to == "" {
		return fmt.Errorf("no mailbox configured for %s support", sub.Type)
	}
	n.log.Infow("Processing support form email job", "supportFormID", id, "type", sub.Type, "destination", to)

	body, err := mail.RenderSupport(form.template, mail.SupportMailParams{
		ID:           sub.ID,
		Type:         string(sub.Type),
		Name:         sub.Name,
		Email:        sub.Email,
		Message:      sub.Message,
		MessageLabel: form.messageLabel,
		TicketID:     form.ticketID(sub.ID),
		SubmittedAt:  sub.CreatedAt,
		BrandingName: brandingName,
	})
	if err != nil {
		return fmt.Errorf("render notification for submission %d: %w", id, err)
	}

	key := archive.NotificationKey(n.prefix, sub.ID, sub.CreatedAt)
	if err := n.archive.Put(ctx, key, []byte(body), "text/html; charset=utf-8"); err != nil {
		n.log.Warnw("Failed to archive support form email", "supportFormID", id, "key", key, "error", err)
	}

	msg := mail.Message{
		To:      []string{to},
		ReplyTo: sub.Email,
		Subject: form.subject(sub.Name),
		Body:    body,
	}
	if err := n.sender.Send(msg); err != nil {
		n.log.Errorw("Failed to send support form email", "supportFormID", id, "destination", to, "error", err)
		return fmt.Errorf("send notification for submission %d: %w", id, err)
	}

	// the mail is out; record it even when the attempt context has expired
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	sentAt := n.now().UTC()
	changed, err := n.repo.MarkEmailSent(markCtx, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark submission %d sent: %w", id, err)
	}
	if !changed {
		metrics.SupportDuplicateDeliveries.Inc()
		n.log.Warnw("Support form email delivered more than once", "supportFormID", id)
	}

	n.log.Infow("Support form email sent successfully", "supportFormID", id, "sentTo", to, "sentAt", sentAt)
	n.auditor.SupportEmailSent(markCtx, id, to)
	return nil
}

// HandlePermanentFailure is registered with the mail queue. The submission keeps
// email_sent=false so it can be resent manually.
func (n *Notifier) HandlePermanentFailure(item mail.QueueItem, reason string, err error) {
	id, ok := parseTaskID(item.ID)
	if !ok {
		return
	}
	n.log.Errorw("Support form email job failed permanently",
		"supportFormID", id,
		"reason", reason,
		"totalAttempts", item.Attempt,
		"finalError", err)
	n.auditor.SupportEmailFailed(context.Background(), id, reason, item.Attempt, err)
}
