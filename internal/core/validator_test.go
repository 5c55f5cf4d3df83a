package core

import (
	"errors"
	"testing"

	"ticketing/internal/types"
)

type scanRequest struct {
	TicketID int64  `json:"ticket_id" validate:"required,gt=0"`
	Token    string `json:"token" validate:"required,scan_token"`
}

func validationError(t *testing.T, err error) *types.AppError {
	t.Helper()
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	return appErr
}

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator(nil)
	if err := v.ValidateStruct(scanRequest{TicketID: 42, Token: "tk_9f8e7d6c5b4a"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateStruct_MissingFields(t *testing.T) {
	v := NewValidator(nil)
	appErr := validationError(t, v.ValidateStruct(scanRequest{}))

	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("expected %s, got %s", types.ErrCodeValidationMissingField, appErr.Code)
	}
	fields, ok := appErr.Details["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected fields detail, got %v", appErr.Details)
	}
	if fields["ticket_id"] != "required" || fields["token"] != "required" {
		t.Errorf("expected json field names with rule, got %v", fields)
	}
}

func TestValidateStruct_BadScanToken(t *testing.T) {
	v := NewValidator(nil)
	appErr := validationError(t, v.ValidateStruct(scanRequest{TicketID: 42, Token: "abc123"}))

	if appErr.Code != types.ErrCodeValidationMalformedPayload {
		t.Errorf("expected %s, got %s", types.ErrCodeValidationMalformedPayload, appErr.Code)
	}
	fields := appErr.Details["fields"].(map[string]any)
	if fields["token"] != "scan_token" {
		t.Errorf("expected scan_token failure, got %v", fields)
	}
}

func TestValidateStruct_MixedFailuresAreMalformed(t *testing.T) {
	v := NewValidator(nil)
	appErr := validationError(t, v.ValidateStruct(scanRequest{TicketID: -1}))

	if appErr.Code != types.ErrCodeValidationMalformedPayload {
		t.Errorf("expected %s, got %s", types.ErrCodeValidationMalformedPayload, appErr.Code)
	}
}

func TestValidateStruct_NonStruct(t *testing.T) {
	v := NewValidator(nil)
	appErr := validationError(t, v.ValidateStruct("not a struct"))
	if appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("expected %s, got %s", types.ErrCodeInternalUnexpected, appErr.Code)
	}
}
