package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrClosed", ErrClosed, "pool has been closed"},
		{"ErrTerminated", ErrTerminated, "pool was closed"},
		{"ErrTimeout", ErrTimeout, "task timed out"},
		{"ErrCapacityExceeded", ErrCapacityExceeded, "capacity exceeded"},
		{"ErrInvalidConfiguration", ErrInvalidConfiguration, "invalid configuration"},
		{"ErrRateLimited", ErrRateLimited, "rate limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err:  NewValidationError("pool", "workers", -1, "cannot be negative"),
			want: "pool: invalid workers=-1 (cannot be negative)",
		},
		{
			name: "with hint",
			err:  NewValidationError("admission", "burst", 0, "must be positive").WithHint("use a value greater than 0"),
			want: "admission: invalid burst=0 (must be positive) - use a value greater than 0",
		},
		{
			name: "string value",
			err:  NewValidationError("scheduler", "cron", "", "cannot be empty"),
			want: "scheduler: invalid cron= (cannot be empty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	verr := NewValidationError("pool", "workers", -2, "cannot be negative")
	if !errors.Is(verr, ErrInvalidConfiguration) {
		t.Error("ValidationError should match ErrInvalidConfiguration")
	}

	wrapped := fmt.Errorf("building pool: %w", verr)
	if !IsValidationError(wrapped) {
		t.Error("IsValidationError should see through wrapping")
	}
	if IsValidationError(ErrTimeout) {
		t.Error("ErrTimeout is not a validation error")
	}
}

func TestWorkerError(t *testing.T) {
	err := error(&WorkerError{Message: "test error", Stack: "main.go:1"})
	if err.Error() != "test error" {
		t.Errorf("Error() = %q, want %q", err.Error(), "test error")
	}

	var werr *WorkerError
	if !errors.As(fmt.Errorf("job 3: %w", err), &werr) {
		t.Fatal("errors.As should find WorkerError")
	}
	if werr.Stack != "main.go:1" {
		t.Errorf("Stack = %q", werr.Stack)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", ErrTimeout, true},
		{"worker exited", fmt.Errorf("chunk 4: %w", ErrWorkerExited), true},
		{"rate limited", ErrRateLimited, true},
		{"closed", ErrClosed, false},
		{"random error", errors.New("random"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", ErrTimeout, true},
		{"capacity", ErrCapacityExceeded, true},
		{"terminated", ErrTerminated, false},
		{"random error", errors.New("random"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}
