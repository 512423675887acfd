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
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// Template names a support notification layout.
type Template string

const (
	TemplateMemberSupport  Template = "member-support"
	TemplateAppSupport     Template = "app-support"
	TemplateGeneralSupport Template = "general-support"
)

// SupportMailParams is the data rendered into every support notification.
type SupportMailParams struct {
	ID           int64
	Type         string
	Name         string
	Email        string
	Message      string
	MessageLabel string
	TicketID     string
	SubmittedAt  time.Time
	BrandingName string
}

var (
	//go:embed templates/member-support.html
	memberSupportTemplateRaw string
	//go:embed templates/app-support.html
	appSupportTemplateRaw string
	//go:embed templates/general-support.html
	generalSupportTemplateRaw string

	templates = map[Template]*template.Template{}
)

func init() {
	for name, raw := range map[Template]string{
		TemplateMemberSupport:  memberSupportTemplateRaw,
		TemplateAppSupport:     appSupportTemplateRaw,
		TemplateGeneralSupport: generalSupportTemplateRaw,
	} {
		t, err := template.New(string(name)).Funcs(sprig.FuncMap()).Parse(raw)
		if err != nil {
			panic(err)
		}
		templates[name] = t
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

// RenderSupport renders the named template. Unknown names fall back to the general layout.
func RenderSupport(name Template, p SupportMailParams) (string, error) {
	t, ok := templates[name]
	if !ok {
		t = templates[TemplateGeneralSupport]
	}
	body, err := render(t, p)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name(), err)
	}
	return body, nil
}
