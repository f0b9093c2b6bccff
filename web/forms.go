package web

import (
	"fmt"
	"net/http"

	"github.com/gorilla/schema"
)

// ------------------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------------------

// Validator holds a map of validation errors, keyed by the query parameter name.
type Validator struct {
	Errors map[string]string `json:"errors"`
}

// NewValidator creates a new, initialized Validator.
func NewValidator() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid returns true if the Errors map is empty.
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError adds an error message to the map for a given field if one
// doesn't already exist for that field.
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// Check is a helper for conditional validation. If `ok` is false, it
// calls AddError with the provided key and message.
func (v *Validator) Check(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// ------------------------------------------------------------------------------
// Forms
// ------------------------------------------------------------------------------

const (
	defaultClientsLimit = 50
	defaultLogsLimit    = 100
	maxLimit            = 500
)

// ClientsForm represents the /clients query parameters. An empty status lists every
// client.
type ClientsForm struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
	Offset int    `schema:"offset"`
}

// NewClientsForm creates a ClientsForm with defaults.
func NewClientsForm() *ClientsForm {
	return &ClientsForm{Limit: defaultClientsLimit}
}

// Validate checks ClientsForm fields and populates Validator with any errors.
func (f *ClientsForm) Validate(v *Validator) {
	v.Check(f.Limit >= 1 && f.Limit <= maxLimit, "limit", fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	v.Check(f.Offset >= 0, "offset", "offset cannot be negative")
}

// LogsForm represents the /logs query parameters.
type LogsForm struct {
	Limit int `schema:"limit"`
}

// NewLogsForm creates a LogsForm with defaults.
func NewLogsForm() *LogsForm {
	return &LogsForm{Limit: defaultLogsLimit}
}

// Validate checks LogsForm fields and populates Validator with any errors.
func (f *LogsForm) Validate(v *Validator) {
	v.Check(f.Limit >= 1 && f.Limit <= maxLimit, "limit", fmt.Sprintf("limit must be between 1 and %d", maxLimit))
}

// ------------------------------------------------------------------------------
// General decoding funcs
// ------------------------------------------------------------------------------

// newSchemaDecoder creates a schema.Decoder that ignores parameters not in the form.
func newSchemaDecoder() *schema.Decoder {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return decoder
}

// DecodeURLParams is helper that decodes URL query parameters from a request
// into a destination struct (dst).
func DecodeURLParams(r *http.Request, dst any) error {
	decoder := newSchemaDecoder()
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("url parameter decoding error: %v", err)
	}
	return nil
}
