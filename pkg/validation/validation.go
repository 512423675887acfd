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

package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ma12/companion-api/pkg/store"
)

// BodyField is the error key used when the request body cannot be decoded at all.
const BodyField = "body"

var personName = regexp.MustCompile(`^[a-zA-Z\s'\-.]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	mustRegister(v, "ymd", func(fl validator.FieldLevel) bool {
		_, err := store.ParseDate(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "person_name", func(fl validator.FieldLevel) bool {
		return personName.MatchString(fl.Field().String())
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

// Errors maps a request field to its human-readable violations.
type Errors map[string][]string

func (e Errors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Fields returns the offending field names in sorted order.
func (e Errors) Fields() []string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, f := range e.Fields() {
		parts = append(parts, f+": "+strings.Join(e[f], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Merge returns a new Errors holding the entries of e and other.
func (e Errors) Merge(other Errors) Errors {
	out := maps.Clone(e)
	if out == nil {
		out = Errors{}
	}
	for f, msgs := range other {
		out[f] = append(slices.Clone(out[f]), msgs...)
	}
	return out
}

// OrNil returns nil for an empty set so callers can return it as error directly.
func (e Errors) OrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// AsErrors extracts field errors from err.
func AsErrors(err error) (Errors, bool) {
	var ve Errors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// MalformedBody reports an undecodable request body as a field error.
func MalformedBody() Errors {
	return Errors{BodyField: {"The request body must be a valid JSON object."}}
}

// Messages overrides the default wording for field+"."+tag pairs.
type Messages map[string]string

// Struct validates v against its `validate` tags. Violations come back as Errors.
func Struct(v any, msgs Messages) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate %T: %w", v, err)
	}
	out := Errors{}
	for _, fe := range fieldErrs {
		field := fe.Field()
		if m, ok := msgs[field+"."+fe.Tag()]; ok {
			out.Add(field, m)
			continue
		}
		out.Add(field, defaultMessage(fe))
	}
	return out
}

func defaultMessage(fe validator.FieldError) string {
	label := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", label)
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", label, fe.Param())
	case "min":
		return fmt.Sprintf("The %s field must be at least %s characters.", label, fe.Param())
	case "ymd":
		return fmt.Sprintf("The %s field must match the format Y-m-d.", label)
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", label)
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", label)
	default:
		return fmt.Sprintf("The %s field is invalid.", label)
	}
}

// TrimLower trims s and lower-cases it.
func TrimLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
