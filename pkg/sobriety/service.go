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

package sobriety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/metrics"
	"github.com/ma12/companion-api/pkg/store"
	"github.com/ma12/companion-api/pkg/validation"
)

// Repository is the slice of the store the service needs.
type Repository interface {
	UpsertSobrietyDate(ctx context.Context, deviceID string, date store.Date) (store.SobrietyRecord, error)
	GetSobrietyDate(ctx context.Context, deviceID string) (store.SobrietyRecord, error)
	UpdateSobrietyDate(ctx context.Context, deviceID string, date store.Date) (store.SobrietyRecord, error)
}

type CreateRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=255"`
	Date     string `json:"date" validate:"required,ymd"`
}

type UpdateRequest struct {
	Date string `json:"date" validate:"required,ymd"`
}

const msgDateAfterToday = "The date field must be a date after today."

type Service struct {
	repo Repository
	now  func() time.Time
	log  *zap.SugaredLogger
}

type Option func(*Service)

// WithClock replaces time.Now, which decides what "today" is.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, log *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now, log: log.Named("sobriety")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Today is the current calendar day in UTC.
func (s *Service) Today() store.Date {
	return store.DateOf(s.now().UTC())
}

// Create stores the date for a device, overwriting any earlier record.
func (s *Service) Create(ctx context.Context, req CreateRequest) (store.SobrietyRecord, error) {
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.Date = strings.TrimSpace(req.Date)
	if err := validation.Struct(req, nil); err != nil {
		return store.SobrietyRecord{}, err
	}
	date, err := store.ParseDate(req.Date)
	if err != nil {
		return store.SobrietyRecord{}, fmt.Errorf("parse validated date: %w", err)
	}

	rec, err := s.repo.UpsertSobrietyDate(ctx, req.DeviceID, date)
	if err != nil {
		return store.SobrietyRecord{}, fmt.Errorf("upsert sobriety date for %s: %w", req.DeviceID, err)
	}
	metrics.SobrietyDatesWritten.WithLabelValues("create").Inc()
	s.log.Debugw("Sobriety date stored", "deviceID", rec.DeviceID, "id", rec.ID)
	return rec, nil
}

// Update changes the date of an existing record. The new date must lie after
// today; the input is checked before the record is looked up. Unknown devices
// yield store.ErrNotFound and nothing is created.
func (s *Service) Update(ctx context.Context, deviceID string, req UpdateRequest) (store.SobrietyRecord, error) {
	req.Date = strings.TrimSpace(req.Date)
	if err := validation.Struct(req, nil); err != nil {
		return store.SobrietyRecord{}, err
	}
	date, err := store.ParseDate(req.Date)
	if err != nil {
		return store.SobrietyRecord{}, fmt.Errorf("parse validated date: %w", err)
	}
	if !date.After(s.Today()) {
		return store.SobrietyRecord{}, validation.Errors{"date": {msgDateAfterToday}}
	}

	rec, err := s.repo.UpdateSobrietyDate(ctx, deviceID, date)
	if err != nil {
		return store.SobrietyRecord{}, fmt.Errorf("update sobriety date for %s: %w", deviceID, err)
	}
	metrics.SobrietyDatesWritten.WithLabelValues("update").Inc()
	s.log.Debugw("Sobriety date updated", "deviceID", rec.DeviceID, "date", rec.Date)
	return rec, nil
}

// Fetch returns the record for deviceID or store.ErrNotFound.
func (s *Service) Fetch(ctx context.Context, deviceID string) (store.SobrietyRecord, error) {
	rec, err := s.repo.GetSobrietyDate(ctx, deviceID)
	if err != nil {
		return store.SobrietyRecord{}, fmt.Errorf("get sobriety date for %s: %w", deviceID, err)
	}
	return rec, nil
}
