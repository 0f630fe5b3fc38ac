// Package security provides input validation and log sanitization for
// requests reaching the prediction server.
package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validation limits.
const (
	MaxQueryLength = 1024
	MaxDocLength   = 512

	// MaxSessions bounds the sessions of one prediction request.
	MaxSessions = 1000
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field      string
	Value      interface{}
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

// validateToken checks an identifier of the session log: required, valid
// UTF-8, at most max characters and free of whitespace, which separates
// fields in the log formats.
func validateToken(field, v string, max int) error {
	if v == "" {
		return &ValidationError{Field: field, Constraint: "required"}
	}
	if !utf8.ValidString(v) {
		return &ValidationError{Field: field, Constraint: "must be valid UTF-8"}
	}
	if n := utf8.RuneCountInString(v); n > max {
		return &ValidationError{
			Field:      field,
			Value:      n,
			Constraint: fmt.Sprintf("maximum length is %d characters", max),
		}
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return &ValidationError{Field: field, Value: SanitizeForLog(v), Constraint: "must not contain whitespace"}
	}
	return nil
}

// ValidateQuery validates a query identifier.
func ValidateQuery(query string) error {
	return validateToken("query", query, MaxQueryLength)
}

// ValidateDoc validates a document identifier.
func ValidateDoc(doc string) error {
	return validateToken("doc", doc, MaxDocLength)
}

// ValidateSessionCount checks the number of sessions in one request.
func ValidateSessionCount(n int) error {
	if n < 1 {
		return &ValidationError{Field: "sessions", Constraint: "at least one session is required"}
	}
	if n > MaxSessions {
		return &ValidationError{
			Field:      "sessions",
			Value:      n,
			Constraint: fmt.Sprintf("maximum is %d sessions per request", MaxSessions),
		}
	}
	return nil
}

// SessionValidator validates one submitted session.
type SessionValidator struct {
	Query string
	Docs  []string
}

// Validate runs all validations on the session.
func (v *SessionValidator) Validate() error {
	if err := ValidateQuery(v.Query); err != nil {
		return err
	}
	for _, d := range v.Docs {
		if err := ValidateDoc(d); err != nil {
			return err
		}
	}
	return nil
}
