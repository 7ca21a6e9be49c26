package validation

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/vnykmshr/multiproc/pkg/common/errors"
)

func TestValidatePositive(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"positive value", 10, false},
		{"one", 1, false},
		{"zero value", 0, true},
		{"negative value", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositive("pool", "chunk_size", tt.value)
			if tt.wantError {
				if !errors.IsValidationError(err) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateNonNegative(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"zero selects default", 0, false},
		{"positive", 4, false},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNonNegative("pool", "workers", tt.value)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateNonNegative(%d) error = %v, wantError %v", tt.value, err, tt.wantError)
			}
		})
	}
}

func TestValidatePositiveFloat(t *testing.T) {
	if err := ValidatePositiveFloat("admission", "rate", 0.5); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePositiveFloat("admission", "rate", 0); err == nil {
		t.Error("expected error for zero rate")
	}
}

func TestValidateDuration(t *testing.T) {
	if err := ValidateDuration("pool", "timeout", 0); err != nil {
		t.Errorf("zero duration should be accepted: %v", err)
	}
	if err := ValidateDuration("pool", "timeout", 250*time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateDuration("pool", "timeout", -time.Second)
	if !stderrors.Is(err, errors.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestValidateNotNil(t *testing.T) {
	if err := ValidateNotNil("scheduler", "submitter", nil); err == nil {
		t.Error("expected error for nil")
	}
	if err := ValidateNotNil("scheduler", "submitter", struct{}{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateNotEmpty(t *testing.T) {
	err := ValidateNotEmpty("admission", "key", "")
	if err == nil {
		t.Fatal("expected error for empty string")
	}
	want := "admission: invalid key= (cannot be empty) - provide a non-empty key"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err := ValidateNotEmpty("admission", "key", "jobs"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
