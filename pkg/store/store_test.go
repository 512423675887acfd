package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ma12/companion-api/pkg/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			return NewMemory(WithClock(clock.Now))
		},
		"sqlite": func(t *testing.T, clock *fakeClock) Store {
			s, err := OpenSQLite(context.Background(), ":memory:", WithClock(clock.Now))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func TestStore_SobrietyDates(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			s := factory(t, clock)

			_, err := s.GetSobrietyDate(ctx, "device-1")
			assert.ErrorIs(t, err, ErrNotFound)

			created, err := s.UpsertSobrietyDate(ctx, "device-1", MustParseDate("2024-01-15"))
			require.NoError(t, err)
			assert.NotZero(t, created.ID)
			assert.Equal(t, "device-1", created.DeviceID)
			assert.Equal(t, "2024-01-15", created.Date.String())
			assert.True(t, created.CreatedAt.Equal(clock.Now()))

			got, err := s.GetSobrietyDate(ctx, "device-1")
			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
			assert.Equal(t, "2024-01-15", got.Date.String())

			clock.Advance(time.Hour)
			again, err := s.UpsertSobrietyDate(ctx, "device-1", MustParseDate("2024-02-01"))
			require.NoError(t, err)
			assert.Equal(t, created.ID, again.ID, "upsert must not create a second row")
			assert.Equal(t, "2024-02-01", again.Date.String())
			assert.True(t, again.UpdatedAt.After(created.UpdatedAt))

			updated, err := s.UpdateSobrietyDate(ctx, "device-1", MustParseDate("2030-05-05"))
			require.NoError(t, err)
			assert.Equal(t, "2030-05-05", updated.Date.String())

			_, err = s.UpdateSobrietyDate(ctx, "unknown", MustParseDate("2030-05-05"))
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetSobrietyDate(ctx, "unknown")
			assert.ErrorIs(t, err, ErrNotFound, "update must not create a record")
		})
	}
}

func TestStore_ConcurrentUpsertSingleRow(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, newClock())

			var wg sync.WaitGroup
			ids := make(chan int64, 10)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec, err := s.UpsertSobrietyDate(ctx, "same-device", MustParseDate("2024-01-01"))
					assert.NoError(t, err)
					ids <- rec.ID
				}()
			}
			wg.Wait()
			close(ids)

			first := int64(-1)
			for id := range ids {
				if first == -1 {
					first = id
				}
				assert.Equal(t, first, id)
			}
		})
	}
}

func TestStore_Submissions(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			s := factory(t, clock)

			sub := &Submission{Type: FormTypeApp, Name: "Jane Doe", Email: "jane@example.com", Message: "The app crashes on launch."}
			require.NoError(t, s.CreateSubmission(ctx, sub))
			assert.NotZero(t, sub.ID)
			assert.False(t, sub.EmailSent)
			assert.Nil(t, sub.EmailSentAt)

			got, err := s.GetSubmission(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, FormTypeApp, got.Type)
			assert.Equal(t, "Jane Doe", got.Name)
			assert.Equal(t, "jane@example.com", got.Email)
			assert.False(t, got.EmailSent)
			assert.Nil(t, got.EmailSentAt)

			sentAt := clock.Now().Add(5 * time.Second)
			ok, err := s.MarkEmailSent(ctx, sub.ID, sentAt)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.MarkEmailSent(ctx, sub.ID, sentAt.Add(time.Minute))
			require.NoError(t, err)
			assert.False(t, ok, "flag flips exactly once")

			got, err = s.GetSubmission(ctx, sub.ID)
			require.NoError(t, err)
			assert.True(t, got.EmailSent)
			require.NotNil(t, got.EmailSentAt)
			assert.True(t, got.EmailSentAt.Equal(sentAt), "first timestamp is kept")

			_, err = s.GetSubmission(ctx, 9999)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.MarkEmailSent(ctx, 9999, sentAt)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_PendingAndStats(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			s := factory(t, clock)

			// one submission yesterday, three today
			clock.Advance(-24 * time.Hour)
			old := &Submission{Type: FormTypeMember, Name: "Old Timer", Email: "old@example.com", Message: "Question from yesterday"}
			require.NoError(t, s.CreateSubmission(ctx, old))
			clock.Advance(24 * time.Hour)

			var today []*Submission
			for _, ft := range []FormType{FormTypeMember, FormTypeApp, FormTypeApp} {
				sub := &Submission{Type: ft, Name: "Someone", Email: "someone@example.com", Message: "Need some help please"}
				require.NoError(t, s.CreateSubmission(ctx, sub))
				today = append(today, sub)
				clock.Advance(time.Second)
			}
			_, err := s.MarkEmailSent(ctx, today[1].ID, clock.Now())
			require.NoError(t, err)

			pending, err := s.ListPendingSubmissions(ctx, 0)
			require.NoError(t, err)
			require.Len(t, pending, 3)
			assert.Equal(t, old.ID, pending[0].ID, "oldest first")

			limited, err := s.ListPendingSubmissions(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			day := DateOf(clock.Now()).Time()
			st, err := s.SubmissionStats(ctx, day, day.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, Stats{
				Total:          4,
				MemberCount:    2,
				AppCount:       2,
				EmailSentCount: 1,
				PendingCount:   3,
				TodayCount:     3,
			}, st)
			assert.Equal(t, st.Total, st.MemberCount+st.AppCount)
			assert.Equal(t, st.Total, st.EmailSentCount+st.PendingCount)
		})
	}
}

func TestStore_EmptyStats(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, newClock())
			st, err := s.SubmissionStats(context.Background(), time.Now(), time.Now().Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, Stats{}, st)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.Database{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, config.Database{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQL{}, s)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.Database{Driver: "postgres"})
	assert.ErrorContains(t, err, "no DSN")

	_, err = Open(ctx, config.Database{Driver: "oracle"})
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", d.String())

	for _, bad := range []string{"2024-1-15", "15/01/2024", "2024-02-30", "", "2024-01-15T00:00:00Z"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}

	b, err := json.Marshal(struct {
		Date Date `json:"date"`
	}{d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-01-15"}`, string(b))

	var scanned Date
	require.NoError(t, scanned.Scan(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, scanned.Equal(d))
	require.NoError(t, scanned.Scan("2024-01-15 00:00:00"))
	assert.True(t, scanned.Equal(d))
	require.NoError(t, scanned.Scan([]byte("2024-01-15")))
	assert.True(t, scanned.Equal(d))
	assert.Error(t, scanned.Scan(42))

	assert.True(t, MustParseDate("2024-01-16").After(d))
	assert.Equal(t, "2026-03-14", DateOf(time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)).String())
}

func TestParseFormType(t *testing.T) {
	ft, ok := ParseFormType(" Member ")
	assert.True(t, ok)
	assert.Equal(t, FormTypeMember, ft)

	ft, ok = ParseFormType("APP")
	assert.True(t, ok)
	assert.Equal(t, FormTypeApp, ft)

	_, ok = ParseFormType("billing")
	assert.False(t, ok)
	assert.False(t, FormType("").Valid())
}
