package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNewBackendError_mapsStatus(t *testing.T) {
	tests := []struct {
		status      int
		wantCode    string
		keepMessage bool
	}{
		{400, ErrBadRequest, true},
		{401, ErrUnauthorized, true},
		{403, ErrForbidden, true},
		{404, ErrNotFound, true},
		{409, ErrConflict, true},
		{429, ErrRateLimited, false},
		{500, ErrBackendUnavailable, false},
		{502, ErrBackendUnavailable, false},
		{503, ErrBackendUnavailable, false},
		{504, ErrBackendTimeout, false},
		// Statuses with no envelope of their own count as an unusable backend.
		{418, ErrBackendUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			e := NewBackendError(tt.status, "order 42 is locked")
			if e.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", e.Code, tt.wantCode)
			}
			// Client errors pass the backend's message through; server
			// failures use a fixed message so backend internals never leak.
			if got := e.Message == "order 42 is locked"; got != tt.keepMessage {
				t.Errorf("Message = %q, keep backend message = %v", e.Message, tt.keepMessage)
			}
		})
	}
}

func TestErrorEnvelope_unwrapsFromWrappedErrors(t *testing.T) {
	err := fmt.Errorf("fetch /api/users: %w", NewBackendError(404, "no such user"))

	var env *ErrorEnvelope
	if !errors.As(err, &env) {
		t.Fatal("errors.As should find the envelope")
	}
	if env.Error() != "NOT_FOUND: no such user" {
		t.Errorf("Error() = %q", env.Error())
	}
}

func TestNewValidationError_wireShape(t *testing.T) {
	e := NewValidationError([]FieldError{
		{Field: "email", Code: "INVALID", Message: "Email must be a valid email address"},
		{Field: "name", Code: "REQUIRED", Message: "Name is required"},
	})
	e.TraceID = "abc"

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["code"] != ErrValidationError || got["trace_id"] != "abc" {
		t.Errorf("envelope = %v", got)
	}
	details, _ := got["details"].([]any)
	if len(details) != 2 {
		t.Fatalf("details = %v, want two field errors", got["details"])
	}
	first, _ := details[0].(map[string]any)
	if first["field"] != "email" || first["code"] != "INVALID" {
		t.Errorf("details[0] = %v", first)
	}
}

func TestErrorEnvelope_omitsEmptyDetails(t *testing.T) {
	raw, err := json.Marshal(NewBackendUnavailableError())
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["details"]; ok {
		t.Errorf("details should be omitted when empty: %s", raw)
	}
}
