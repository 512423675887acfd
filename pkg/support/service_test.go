package support

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ma12/companion-api/pkg/mail"
	"github.com/ma12/companion-api/pkg/metrics"
	"github.com/ma12/companion-api/pkg/store"
	"github.com/ma12/companion-api/pkg/validation"
)

var fixedNow = time.Date(2026, 3, 14, 22, 45, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

var testMailboxes = Mailboxes{Member: "members@ma12.test", App: "app@ma12.test"}

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (s *recordingSender) Send(msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) GetHost() string { return "recording" }

func (s *recordingSender) GetPort() int { return 0 }

func (s *recordingSender) messages() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.sent...)
}

type enqueued struct {
	id    string
	run   mail.TaskFunc
	delay time.Duration
}

type recordingDispatcher struct {
	tasks []enqueued
	err   error
}

func (d *recordingDispatcher) Enqueue(id string, run mail.TaskFunc, delay time.Duration) error {
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, enqueued{id: id, run: run, delay: delay})
	return nil
}

type fixture struct {
	repo       *store.Memory
	sender     *recordingSender
	dispatcher *recordingDispatcher
	notifier   *Notifier
	service    *Service
	logs       *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core).Sugar()
	f := &fixture{
		repo:       store.NewMemory(store.WithClock(clock)),
		sender:     &recordingSender{},
		dispatcher: &recordingDispatcher{},
		logs:       logs,
	}
	f.notifier = NewNotifier(f.repo, f.sender, testMailboxes, log).WithClock(clock)
	f.service = NewService(f.repo, f.dispatcher, f.notifier, log, WithClock(clock), WithDispatchDelay(2*time.Second))
	return f
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Type:    "member",
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Message: "I would like to talk to someone.",
	}
}

func TestService_Submit(t *testing.T) {
	f := newFixture(t)
	before := testutil.ToFloat64(metrics.SupportFormsSubmitted.WithLabelValues("app"))

	req := validRequest()
	req.Type = "  APP "
	req.Email = " Jane@Example.COM "
	req.Name = "  Jane Doe "
	res, err := f.service.Submit(context.Background(), req)
	require.NoError(t, err)

	sub := res.Submission
	assert.NotZero(t, sub.ID)
	assert.Equal(t, store.FormTypeApp, sub.Type)
	assert.Equal(t, "jane@example.com", sub.Email)
	assert.Equal(t, "Jane Doe", sub.Name)
	assert.False(t, sub.EmailSent)
	assert.Nil(t, sub.EmailSentAt)
	assert.Equal(t, ReferenceID(sub.ID), res.ReferenceID)
	assert.Equal(t, formTypes[store.FormTypeApp].confirmation, res.Message)

	require.Len(t, f.dispatcher.tasks, 1)
	assert.Equal(t, TaskID(sub.ID), f.dispatcher.tasks[0].id)
	assert.Equal(t, 2*time.Second, f.dispatcher.tasks[0].delay)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SupportFormsSubmitted.WithLabelValues("app")))
	assert.Equal(t, 1, f.logs.FilterMessage("New support form submitted").Len())

	stored, err := f.repo.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, stored.EmailSent, "nothing is sent until the task runs")

	require.NoError(t, f.dispatcher.tasks[0].run(context.Background()))
	stored, err = f.repo.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailSent)
	require.NotNil(t, stored.EmailSentAt)
	assert.True(t, stored.EmailSentAt.Equal(fixedNow))
}

func TestService_SubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string
		want   string
	}{
		{"missing type", func(r *SubmitRequest) { r.Type = "  " }, "type", "Support form type is required."},
		{"unknown type", func(r *SubmitRequest) { r.Type = "billing" }, "type", `Support form type must be either "member" or "app".`},
		{"missing name", func(r *SubmitRequest) { r.Name = "" }, "name", "Name is required."},
		{"short name", func(r *SubmitRequest) { r.Name = " J " }, "name", "Name must be at least 2 characters long."},
		{"long name", func(r *SubmitRequest) { r.Name = strings.Repeat("a", 101) }, "name", "Name cannot exceed 100 characters."},
		{"name with digits", func(r *SubmitRequest) { r.Name = "R2D2" }, "name", "Name can only contain letters, spaces, apostrophes, hyphens, and dots."},
		{"missing email", func(r *SubmitRequest) { r.Email = "" }, "email", "Email address is required."},
		{"bad email", func(r *SubmitRequest) { r.Email = "not-an-email" }, "email", "Please provide a valid email address."},
		{"missing message", func(r *SubmitRequest) { r.Message = "   " }, "message", "Message is required."},
		{"nine char message", func(r *SubmitRequest) { r.Message = "123456789" }, "message", "Message must be at least 10 characters long."},
		{"long message", func(r *SubmitRequest) { r.Message = strings.Repeat("m", 2001) }, "message", "Message cannot exceed 2000 characters."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest()
			tt.mutate(&req)

			_, err := f.service.Submit(context.Background(), req)
			ve, ok := validation.AsErrors(err)
			require.True(t, ok, "expected validation errors, got %v", err)
			assert.Equal(t, []string{tt.want}, ve[tt.field])
			assert.Empty(t, f.dispatcher.tasks)
		})
	}
}

func TestService_SubmitBoundaries(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.Message = "1234567890"
	req.Name = "Jo"
	_, err := f.service.Submit(context.Background(), req)
	require.NoError(t, err)

	req.Message = strings.Repeat("m", 2000)
	req.Name = strings.Repeat("a", 100)
	_, err = f.service.Submit(context.Background(), req)
	require.NoError(t, err)
}

func TestService_SubmitSurvivesEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = mail.ErrQueueFull
	before := testutil.ToFloat64(metrics.SupportEnqueueFailures.WithLabelValues("member"))

	res, err := f.service.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	pending, err := f.service.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Submission.ID, pending[0].ID)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SupportEnqueueFailures.WithLabelValues("member")))
	assert.Equal(t, 1, f.logs.FilterMessage("Failed to schedule support form email, submission stays pending").Len())
}

type failingRepo struct {
	Repository
}

func (failingRepo) CreateSubmission(context.Context, *store.Submission) error {
	return errors.New("database is locked")
}

func (failingRepo) SubmissionStats(context.Context, time.Time, time.Time) (store.Stats, error) {
	return store.Stats{}, errors.New("database is locked")
}

func TestService_StoreErrorsAreWrapped(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingRepo{}, f.dispatcher, f.notifier, zap.NewNop().Sugar())

	_, err := svc.Submit(context.Background(), validRequest())
	require.Error(t, err)
	_, isValidation := validation.AsErrors(err)
	assert.False(t, isValidation)
	assert.Contains(t, err.Error(), "store support submission")
	assert.Empty(t, f.dispatcher.tasks)

	_, err = svc.Stats(context.Background())
	assert.ErrorContains(t, err, "support form stats")
}

func TestService_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, typ := range []string{"member", "member", "app"} {
		req := validRequest()
		req.Type = typ
		_, err := f.service.Submit(ctx, req)
		require.NoError(t, err)
	}
	require.NoError(t, f.dispatcher.tasks[0].run(ctx))

	st, err := f.service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Stats{
		Total:          3,
		MemberCount:    2,
		AppCount:       1,
		EmailSentCount: 1,
		PendingCount:   2,
		TodayCount:     3,
	}, st)
	assert.Equal(t, st.Total, st.MemberCount+st.AppCount)
	assert.Equal(t, st.Total, st.EmailSentCount+st.PendingCount)

	tomorrow := NewService(f.repo, f.dispatcher, f.notifier, zap.NewNop().Sugar(),
		WithClock(func() time.Time { return fixedNow.Add(2 * time.Hour) }))
	st, err = tomorrow.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.Zero(t, st.TodayCount, "submissions from the previous UTC day are not counted as today")
}

func TestService_Resend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.Submit(ctx, validRequest())
	require.NoError(t, err)
	id := res.Submission.ID

	require.NoError(t, f.service.Resend(ctx, id, "ops"))
	require.Len(t, f.sender.messages(), 1)

	err = f.service.Resend(ctx, id, "ops")
	assert.ErrorIs(t, err, ErrAlreadySent)
	assert.Len(t, f.sender.messages(), 1)

	err = f.service.Resend(ctx, id+100, "ops")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
