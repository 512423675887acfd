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
	"errors"
	"fmt"
	"strconv"

	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/mail"
	"github.com/ma12/companion-api/pkg/store"
)

// Mailboxes are the destination addresses of support notifications, resolved once at startup.
type Mailboxes struct {
	Member string
	App    string
}

func MailboxesFromConfig(cfg config.Support) Mailboxes {
	return Mailboxes{Member: cfg.MemberMailbox, App: cfg.AppMailbox}
}

// For returns the mailbox responsible for t. Unknown types go to the member mailbox.
func (m Mailboxes) For(t store.FormType) string {
	return formFor(t).mailbox(m)
}

// Validate reports every form type without a destination.
func (m Mailboxes) Validate() error {
	var errs []error
	for _, t := range store.FormTypes {
		if m.For(t) == "" {
			errs = append(errs, fmt.Errorf("no mailbox configured for %s support", t))
		}
	}
	return errors.Join(errs...)
}

// formSpec holds everything that differs between form types.
type formSpec struct {
	mailbox       func(Mailboxes) string
	subjectPrefix string
	template      mail.Template
	confirmation  string
	ticketPrefix  string
	messageLabel  string
}

func memberMailbox(m Mailboxes) string { return m.Member }

func appMailbox(m Mailboxes) string { return m.App }

var formTypes = map[store.FormType]formSpec{
	store.FormTypeMember: {
		mailbox:       memberMailbox,
		subjectPrefix: "New Member Support Request from ",
		template:      mail.TemplateMemberSupport,
		confirmation:  "Your member support request has been submitted successfully. Our support team will respond within 24 hours.",
		ticketPrefix:  "#",
		messageLabel:  "How can we support you?",
	},
	store.FormTypeApp: {
		mailbox:       appMailbox,
		subjectPrefix: "New App Support Issue from ",
		template:      mail.TemplateAppSupport,
		confirmation:  "Your app issue has been reported successfully. Our technical team will investigate and respond within 24 hours.",
		ticketPrefix:  "#APP-",
		messageLabel:  "Issue Description:",
	},
}

var genericForm = formSpec{
	mailbox:       memberMailbox,
	subjectPrefix: "New Support Request from ",
	template:      mail.TemplateGeneralSupport,
	confirmation:  "Your support request has been submitted successfully. You will receive a response within 24 hours.",
	ticketPrefix:  "#",
	messageLabel:  "Message:",
}

func formFor(t store.FormType) formSpec {
	if spec, ok := formTypes[t]; ok {
		return spec
	}
	return genericForm
}

func (f formSpec) subject(name string) string {
	return f.subjectPrefix + name
}

func (f formSpec) ticketID(id int64) string {
	return f.ticketPrefix + strconv.FormatInt(id, 10)
}

// ReferenceID is the identifier handed back to the submitter.
func ReferenceID(id int64) string {
	return "#" + strconv.FormatInt(id, 10)
}
