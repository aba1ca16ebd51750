package utils

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// Participant IDs come from the identity provider; keep them printable and short
	participantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]{1,64}$`)
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator provides validation methods
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, &ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required checks if a string is not empty
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
		return false
	}
	return true
}

// MaxLength checks if a string doesn't exceed maximum length
func (v *Validator) MaxLength(field, value string, max int) bool {
	if utf8.RuneCountInString(value) > max {
		v.AddError(field, "must be at most "+strconv.Itoa(max)+" characters")
		return false
	}
	return true
}

// ValidateRoomName validates a room name
func (v *Validator) ValidateRoomName(field, value string) bool {
	if !v.Required(field, value) {
		return false
	}
	return v.MaxLength(field, strings.TrimSpace(value), 100)
}

// ValidateMessageText validates chat text
func (v *Validator) ValidateMessageText(field, value string, max int) bool {
	if !v.Required(field, value) {
		return false
	}
	return v.MaxLength(field, strings.TrimSpace(value), max)
}

// ValidateParticipantID validates an ID naming a participant
func (v *Validator) ValidateParticipantID(field, value string) bool {
	if !v.Required(field, value) {
		return false
	}
	if !participantIDRegex.MatchString(value) {
		v.AddError(field, "is not a valid participant id")
		return false
	}
	return true
}

// ValidateUUID validates a UUID string
func ValidateUUID(s string) bool {
	return uuidRegex.MatchString(s)
}

// SanitizeString removes potentially dangerous characters
func SanitizeString(s string) string {
	// Remove null bytes and control characters
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
