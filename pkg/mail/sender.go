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
	"crypto/tls"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/metrics"
)

// Message is a single outgoing HTML mail.
type Message struct {
	To      []string
	ReplyTo string
	Subject string
	Body    string
}

// Sender delivers one message per call. Retrying is the queue's job.
type Sender interface {
	Send(msg Message) error
	GetHost() string
	GetPort() int
}

type sender struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
	log           *zap.SugaredLogger
}

// NewSender returns an SMTP sender, or a logging sender when mail is disabled.
func NewSender(cfg config.Mail, log *zap.SugaredLogger) Sender {
	if cfg.Disabled {
		log.Warnw("Mail delivery disabled, notifications will only be logged", "hostConfigured", cfg.Host != "")
		return NewLogSender(log)
	}
	if cfg.Host == "" {
		log.Errorw("Mail host not configured, notifications will only be logged but still marked as sent",
			"hint", "set MAIL_HOST (mail.host), or mail.disabled to acknowledge log-only delivery")
		return NewLogSender(log)
	}
	log.Infow("Initializing mail sender", "host", cfg.Host, "port", cfg.Port, "user", cfg.User)
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warnw("InsecureSkipVerify is enabled for mail TLS connection", "host", cfg.Host)
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in for test relays
	}
	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = config.DefaultSenderAddress
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = config.DefaultSenderName
	}
	return &sender{
		dialer:        d,
		senderAddress: senderAddr,
		senderName:    senderName,
		log:           log,
	}
}

func (s *sender) Send(msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("cannot send mail with no receivers")
	}
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.senderAddress, s.senderName)
	m.SetHeader("To", msg.To...)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		metrics.MailSendFailure.WithLabelValues(s.GetHost()).Inc()
		return fmt.Errorf("smtp send to %s:%d: %w", s.GetHost(), s.GetPort(), err)
	}
	metrics.MailSendSuccess.WithLabelValues(s.GetHost()).Inc()
	s.log.Debugw("Mail sent", "receivers", len(msg.To), "subject", msg.Subject)
	return nil
}

func (s *sender) GetHost() string { return s.dialer.Host }

func (s *sender) GetPort() int { return s.dialer.Port }

// LogSender writes notifications to the log instead of an SMTP relay.
type LogSender struct {
	log *zap.SugaredLogger
}

func NewLogSender(log *zap.SugaredLogger) *LogSender {
	return &LogSender{log: log}
}

func (l *LogSender) Send(msg Message) error {
	l.log.Infow("Mail delivery disabled, logging notification instead",
		"to", msg.To,
		"replyTo", msg.ReplyTo,
		"subject", msg.Subject,
		"bodyBytes", len(msg.Body))
	metrics.MailSendSuccess.WithLabelValues(l.GetHost()).Inc()
	return nil
}

func (l *LogSender) GetHost() string { return "disabled" }

func (l *LogSender) GetPort() int { return 0 }
