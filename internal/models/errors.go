package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrForbidden        = errors.New("editor does not own the requested resource")
	ErrUnauthorized     = errors.New("editor is not authorized and active")
	ErrNotReady         = errors.New("editor is not ready for machine authentication")
	ErrNoEditor         = errors.New("requested editor does not exist")
	ErrNoMarket         = errors.New("requested market does not exist")
	ErrNoApplication    = errors.New("requested application does not exist")
	ErrNoDocument       = errors.New("requested document does not exist")
	ErrMarketClosed     = errors.New("market is closed for applications")
	ErrDeadlinePassed   = errors.New("market deadline has passed")
	ErrAlreadySubmitted = errors.New("application has already been submitted")
	ErrNotSubmitted     = errors.New("application has not been submitted")
	ErrNoArtifact       = errors.New("requested artifact is not available")
)

// ValidationError reports per-field input problems. Never logged as an incident.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// InvalidReferenceError names optional document ids that do not resolve to an
// active document eligible for the requested market type.
type InvalidReferenceError struct {
	Ids []int64
}

func (e *InvalidReferenceError) Error() string {
	parts := make([]string, 0, len(e.Ids))
	for _, id := range e.Ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return "invalid document references: " + strings.Join(parts, ", ")
}

// IncompleteError explains why an application cannot be submitted yet.
type IncompleteError struct {
	MissingFields      []string
	MissingDocumentIds []int64
}

func (e *IncompleteError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.MissingDocumentIds) > 0 {
		ids := make([]string, 0, len(e.MissingDocumentIds))
		for _, id := range e.MissingDocumentIds {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		parts = append(parts, "missing documents: "+strings.Join(ids, ", "))
	}
	if len(parts) == 0 {
		return "application is incomplete"
	}
	return "application is incomplete: " + strings.Join(parts, "; ")
}

// AuthFailedError wraps a token-authority failure. The reason is safe to show
// to the caller; the underlying error is logged, never returned.
type AuthFailedError struct {
	Reason string
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}
