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
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/audit"
	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/mail"
	"github.com/ma12/companion-api/pkg/metrics"
	"github.com/ma12/companion-api/pkg/store"
	"github.com/ma12/companion-api/pkg/validation"
)

// ErrAlreadySent is returned when a resend is requested for a delivered notification.
var ErrAlreadySent = errors.New("support notification already sent")

// Repository is the part of store.Store the support flow needs.
type Repository interface {
	CreateSubmission(ctx context.Context, sub *store.Submission) error
	GetSubmission(ctx context.Context, id int64) (store.Submission, error)
	MarkEmailSent(ctx context.Context, id int64, at time.Time) (bool, error)
	ListPendingSubmissions(ctx context.Context, limit int) ([]store.Submission, error)
	SubmissionStats(ctx context.Context, dayStart, dayEnd time.Time) (store.Stats, error)
}

// Dispatcher schedules a notification task. *mail.Service and *mail.Queue satisfy it.
type Dispatcher interface {
	Enqueue(id string, run mail.TaskFunc, delay time.Duration) error
}

type SubmitRequest struct {
	Type    string `json:"type" validate:"required,oneof=member app"`
	Name    string `json:"name" validate:"required,min=2,max=100,person_name"`
	Email   string `json:"email" validate:"required,email,max=255"`
	Message string `json:"message" validate:"required,min=10,max=2000"`
}

func (r *SubmitRequest) normalize() {
	r.Type = validation.TrimLower(r.Type)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = validation.TrimLower(r.Email)
	r.Message = strings.TrimSpace(r.Message)
}

var submitMessages = validation.Messages{
	"type.required":    "Support form type is required.",
	"type.oneof":       `Support form type must be either "member" or "app".`,
	"name.required":    "Name is required.",
	"name.min":         "Name must be at least 2 characters long.",
	"name.max":         "Name cannot exceed 100 characters.",
	"name.person_name": "Name can only contain letters, spaces, apostrophes, hyphens, and dots.",
	"email.required":   "Email address is required.",
	"email.email":      "Please provide a valid email address.",
	"email.max":        "Email address cannot exceed 255 characters.",
	"message.required": "Message is required.",
	"message.min":      "Message must be at least 10 characters long.",
	"message.max":      "Message cannot exceed 2000 characters.",
}

// SubmitResult is what the submitter gets back.
type SubmitResult struct {
	Submission  store.Submission
	ReferenceID string
	Message     string
}

type Service struct {
	repo       Repository
	dispatcher Dispatcher
	notifier   *Notifier
	auditor    *audit.Manager
	delay      time.Duration
	now        func() time.Time
	log        *zap.SugaredLogger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDispatchDelay sets how long a new notification waits before its first attempt.
func WithDispatchDelay(d time.Duration) Option {
	return func(s *Service) { s.delay = d }
}

func WithAudit(m *audit.Manager) Option {
	return func(s *Service) { s.auditor = m }
}

func NewService(repo Repository, dispatcher Dispatcher, notifier *Notifier, log *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		dispatcher: dispatcher,
		notifier:   notifier,
		delay:      config.DefaultDispatchDelay,
		now:        time.Now,
		log:        log.Named("support"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and stores the submission, then schedules its notification.
// A failed enqueue leaves the row pending and does not fail the submission.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	req.normalize()
	if err := validation.Struct(req, submitMessages); err != nil {
		return SubmitResult{}, err
	}

	formType, _ := store.ParseFormType(req.Type)
	sub := store.Submission{
		Type:    formType,
		Name:    req.Name,
		Email:   req.Email,
		Message: req.Message,
	}
	if err := s.repo.CreateSubmission(ctx, &sub); err != nil {
		return SubmitResult{}, fmt.Errorf("store support submission: %w", err)
	}
	metrics.SupportFormsSubmitted.WithLabelValues(string(formType)).Inc()
	s.log.Infow("New support form submitted",
		"supportFormID", sub.ID,
		"type", sub.Type,
		"userEmail", sub.Email,
		"destination", s.notifier.mailboxes.For(formType))

	if err := s.dispatcher.Enqueue(TaskID(sub.ID), s.notifier.Task(sub.ID), s.delay); err != nil {
		metrics.SupportEnqueueFailures.WithLabelValues(string(formType)).Inc()
		s.log.Errorw("Failed to schedule support form email, submission stays pending",
			"supportFormID", sub.ID, "error", err)
	}

	return SubmitResult{
		Submission:  sub,
		ReferenceID: ReferenceID(sub.ID),
		Message:     formFor(formType).confirmation,
	}, nil
}

// Stats counts submissions. Today is the current UTC calendar day.
func (s *Service) Stats(ctx context.Context) (store.Stats, error) {
	dayStart := store.DateOf(s.now().UTC()).Time()
	st, err := s.repo.SubmissionStats(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return store.Stats{}, fmt.Errorf("support form stats: %w", err)
	}
	return st, nil
}

// Pending lists submissions whose notification has not been delivered, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]store.Submission, error) {
	subs, err := s.repo.ListPendingSubmissions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	return subs, nil
}

// Resend delivers the notification of a pending submission right away, with a single attempt.
func (s *Service) Resend(ctx context.Context, id int64, operator string) error {
	sub, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", id, err)
	}
	if sub.EmailSent {
		return fmt.Errorf("submission %d: %w", id, ErrAlreadySent)
	}
	s.log.Infow("Resending support form email", "supportFormID", id, "operator", operator)
	s.auditor.SupportEmailResent(ctx, id, operator)
	return s.notifier.Deliver(ctx, id)
}
