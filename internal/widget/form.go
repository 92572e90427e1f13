// ABOUTME: Form controller: local field values, submit-time validation and submitted receipt mode
// ABOUTME: A field's error clears as soon as that field changes

package widget

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/2389/eagence-chat/internal/message"
)

// Form errors
var (
	ErrInvalid      = errors.New("form has invalid fields")
	ErrSubmitted    = errors.New("form already submitted")
	ErrUnknownField = errors.New("unknown form field")
)

// Validation messages shown next to a field.
const (
	MsgRequired     = "Ce champ est obligatoire"
	MsgInvalidEmail = "Adresse e-mail invalide"
	MsgInvalidPhone = "Numéro de téléphone invalide"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 .\-()]{6,19}$`)
)

// PreviewSize is the number of fields shown once a form is submitted.
const PreviewSize = 2

// Form tracks the values and validation state of one form block.
type Form struct {
	mu          sync.Mutex
	fields      []message.FormField
	typeRequest string
	values      map[string]string
	errors      map[string]string
	submitted   bool
	onSubmit    func(typeRequest string, values []message.FieldValue)
}

// NewForm creates a controller for block. Values start from the
// server-provided defaults.
func NewForm(block message.Block, onSubmit func(typeRequest string, values []message.FieldValue)) *Form {
	f := &Form{
		fields:      append([]message.FormField(nil), block.FormFields...),
		typeRequest: block.TypeRequest,
		values:      make(map[string]string, len(block.FormFields)),
		errors:      make(map[string]string),
		onSubmit:    onSubmit,
	}
	for _, field := range f.fields {
		f.values[field.ID] = field.Value
	}
	return f
}

// Fields returns the form schema.
func (f *Form) Fields() []message.FormField {
	return f.fields
}

// Value returns the current value of a field.
func (f *Form) Value(fieldID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[fieldID]
}

// Set changes a field's value and clears that field's error.
func (f *Form) Set(fieldID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitted {
		return ErrSubmitted
	}
	if _, ok := f.values[fieldID]; !ok {
		return ErrUnknownField
	}
	f.values[fieldID] = value
	delete(f.errors, fieldID)
	return nil
}

// Errors returns the field errors from the last submit attempt that are
// still standing.
func (f *Form) Errors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.errors))
	for k, v := range f.errors {
		out[k] = v
	}
	return out
}

// Submitted reports whether the form is in read-only receipt mode.
func (f *Form) Submitted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

// Submit validates every field. On failure it records field errors, returns
// ErrInvalid and does not call back. On success it calls back once with all
// values and switches to submitted mode.
func (f *Form) Submit() error {
	f.mu.Lock()
	if f.submitted {
		f.mu.Unlock()
		return ErrSubmitted
	}

	f.errors = make(map[string]string)
	for _, field := range f.fields {
		if msg := validate(field, f.values[field.ID]); msg != "" {
			f.errors[field.ID] = msg
		}
	}
	if len(f.errors) > 0 {
		f.mu.Unlock()
		return ErrInvalid
	}

	f.submitted = true
	values := f.valuesLocked()
	cb := f.onSubmit
	typeRequest := f.typeRequest
	f.mu.Unlock()

	if cb != nil {
		cb(typeRequest, values)
	}
	return nil
}

// Preview returns the first fields with their submitted values.
func (f *Form) Preview() []message.FieldValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	values := f.valuesLocked()
	if len(values) > PreviewSize {
		values = values[:PreviewSize]
	}
	return values
}

func (f *Form) valuesLocked() []message.FieldValue {
	out := make([]message.FieldValue, len(f.fields))
	for i, field := range f.fields {
		out[i] = message.FieldValue{ID: field.ID, Name: field.Name, Value: f.values[field.ID]}
	}
	return out
}

// validate returns the error message for value, or "" if it is acceptable.
func validate(field message.FormField, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		if field.Required {
			return MsgRequired
		}
		return ""
	}
	switch field.Type {
	case message.FieldTypeEmail:
		if !emailPattern.MatchString(value) {
			return MsgInvalidEmail
		}
	case message.FieldTypePhone:
		if !phonePattern.MatchString(value) {
			return MsgInvalidPhone
		}
	}
	return ""
}
