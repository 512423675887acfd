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

// Package archive keeps a copy of every rendered notification so that a
// support mail can be looked up after the fact, even when delivery failed.
//
// Drivers: "none" (discard), "memory", "fs" (local directory) and "s3"
// (any S3 compatible endpoint).
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/metrics"
)

const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverFS     = "fs"
	DriverS3     = "s3"
)

var ErrNotFound = errors.New("archived object not found")

// Store holds archived objects by key. Put overwrites an existing key.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Driver() string
}

// Open builds the store selected by cfg.Driver. Writes are counted per driver.
func Open(ctx context.Context, cfg config.Archive, log *zap.SugaredLogger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		s = Nop{}
	case DriverMemory:
		s = NewMemory()
	case DriverFS:
		s, err = NewFS(cfg.Dir)
	case DriverS3:
		s, err = NewS3(ctx, S3Config{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", cfg.Driver, err)
	}
	log.Infow("Notification archive ready", "driver", s.Driver(), "prefix", cfg.Prefix)
	return instrumented{Store: s}, nil
}

// NotificationKey is the object key of the rendered mail for a submission.
func NotificationKey(prefix string, id int64, createdAt time.Time) string {
	return path.Join(prefix, createdAt.UTC().Format("2006/01/02"), fmt.Sprintf("support-form-%d.html", id))
}

// Nop discards every write.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte, string) error { return nil }

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

func (Nop) Driver() string { return DriverNone }

type instrumented struct {
	Store
}

func (i instrumented) Put(ctx context.Context, key string, body []byte, contentType string) error {
	err := i.Store.Put(ctx, key, body, contentType)
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ArchiveWrites.WithLabelValues(i.Driver(), result).Inc()
	return err
}
