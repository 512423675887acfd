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

package mail

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/config"
)

const (
	// queueStopTimeout is the maximum time to wait for in-flight attempts on shutdown
	queueStopTimeout = 30 * time.Second
)

// Service owns the sender and the task queue for the lifetime of the process.
type Service struct {
	sender Sender
	queue  *Queue
	logger *zap.SugaredLogger
}

// NewService builds the sender and queue described by cfg.
func NewService(cfg config.Mail, logger *zap.SugaredLogger) (*Service, error) {
	logger = logger.Named("mail-service")
	policy, err := PolicyFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender := NewSender(cfg, logger)
	return NewServiceWithSender(sender, QueueOptions{
		Policy:    policy,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	}, logger), nil
}

// NewServiceWithSender wires an existing sender, mostly for tests.
func NewServiceWithSender(sender Sender, opts QueueOptions, logger *zap.SugaredLogger) *Service {
	if opts.Host == "" {
		opts.Host = sender.GetHost()
	}
	return &Service{
		sender: sender,
		queue:  NewQueue(logger, opts),
		logger: logger,
	}
}

func (s *Service) Sender() Sender { return s.sender }

func (s *Service) Queue() *Queue { return s.queue }

// IsEnabled reports whether notifications leave the process over SMTP.
func (s *Service) IsEnabled() bool {
	_, logOnly := s.sender.(*LogSender)
	return !logOnly
}

func (s *Service) Start() {
	s.queue.Start()
	s.logger.Infow("Mail service started", "host", s.sender.GetHost(), "port", s.sender.GetPort(), "smtp", s.IsEnabled())
}

func (s *Service) Enqueue(id string, run TaskFunc, delay time.Duration) error {
	return s.queue.Enqueue(id, run, delay)
}

// Stop gracefully shuts down the queue, bounded by queueStopTimeout.
func (s *Service) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queueStopTimeout)
	defer cancel()
	return s.queue.Stop(ctx)
}
