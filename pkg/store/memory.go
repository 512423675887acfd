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

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store used in tests and for throwaway runs.
type Memory struct {
	mu          sync.RWMutex
	opts        options
	sobriety    map[string]SobrietyRecord
	submissions map[int64]Submission
	nextSobID   int64
	nextSubID   int64
}

var _ Store = (*Memory)(nil)

func NewMemory(opts ...Option) *Memory {
	return &Memory{
		opts:        buildOptions(opts),
		sobriety:    make(map[string]SobrietyRecord),
		submissions: make(map[int64]Submission),
	}
}

func (m *Memory) UpsertSobrietyDate(_ context.Context, deviceID string, date Date) (SobrietyRecord, error) {
	now := m.opts.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sobriety[deviceID]
	if !ok {
		m.nextSobID++
		rec = SobrietyRecord{ID: m.nextSobID, DeviceID: deviceID, CreatedAt: now}
	}
	rec.Date = date
	rec.UpdatedAt = now
	m.sobriety[deviceID] = rec
	return rec, nil
}

func (m *Memory) GetSobrietyDate(_ context.Context, deviceID string) (SobrietyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sobriety[deviceID]
	if !ok {
		return SobrietyRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) UpdateSobrietyDate(_ context.Context, deviceID string, date Date) (SobrietyRecord, error) {
	now := m.opts.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sobriety[deviceID]
	if !ok {
		return SobrietyRecord{}, ErrNotFound
	}
	rec.Date = date
	rec.UpdatedAt = now
	m.sobriety[deviceID] = rec
	return rec, nil
}

func (m *Memory) CreateSubmission(_ context.Context, sub *Submission) error {
	now := m.opts.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	sub.ID = m.nextSubID
	sub.EmailSent = false
	sub.EmailSentAt = nil
	sub.CreatedAt = now
	sub.UpdatedAt = now
	m.submissions[sub.ID] = *sub
	return nil
}

func (m *Memory) GetSubmission(_ context.Context, id int64) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.submissions[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return sub, nil
}

func (m *Memory) MarkEmailSent(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return false, ErrNotFound
	}
	if sub.EmailSent {
		return false, nil
	}
	at = at.UTC()
	sub.EmailSent = true
	sub.EmailSentAt = &at
	sub.UpdatedAt = at
	m.submissions[id] = sub
	return true, nil
}

func (m *Memory) ListPendingSubmissions(_ context.Context, limit int) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Submission, 0)
	for _, sub := range m.submissions {
		if !sub.EmailSent {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SubmissionStats(_ context.Context, dayStart, dayEnd time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st Stats
	for _, sub := range m.submissions {
		st.Total++
		switch sub.Type {
		case FormTypeMember:
			st.MemberCount++
		case FormTypeApp:
			st.AppCount++
		}
		if sub.EmailSent {
			st.EmailSentCount++
		} else {
			st.PendingCount++
		}
		if !sub.CreatedAt.Before(dayStart) && sub.CreatedAt.Before(dayEnd) {
			st.TodayCount++
		}
	}
	return st, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
