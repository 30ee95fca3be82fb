package errors

import (
	"errors"
	"fmt"
	"testing"

	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeNotFound, "resource not found")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if err.Code != ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeNotFound, err.Code)
	}
	if err.Message != "resource not found" {
		t.Errorf("expected message 'resource not found', got %s", err.Message)
	}
	if err.Cause != nil {
		t.Errorf("expected nil cause, got %v", err.Cause)
	}
}

func TestErrorCodeValues(t *testing.T) {
	codes := map[ErrorCode]string{
		ErrCodeNotFound:       "NOT_FOUND",
		ErrCodeAlreadyExists:  "ALREADY_EXISTS",
		ErrCodeConflict:       "CONFLICT",
		ErrCodeTimeout:        "TIMEOUT",
		ErrCodeInternal:       "INTERNAL",
		ErrCodeInvalidRequest: "INVALID_REQUEST",
		ErrCodeUnavailable:    "UNAVAILABLE",
		ErrCodeFailed:         "FAILED",
	}
	for code, want := range codes {
		if string(code) != want {
			t.Errorf("expected %s, got %s", want, code)
		}
	}
}

func TestWrapWithContext(t *testing.T) {
	cause := errors.New("timeout")
	ctx := map[string]any{
		"name":      "traindb-ml-serve-pytorch-mnist",
		"namespace": "learned-model",
	}

	err := WrapWithContext(ErrCodeTimeout, "inference service not ready", cause, ctx)

	if err.Code != ErrCodeTimeout {
		t.Errorf("expected code %s, got %s", ErrCodeTimeout, err.Code)
	}
	if err.Context["namespace"] != "learned-model" {
		t.Errorf("expected namespace in context")
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be wrapped")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		err      *StructuredError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(ErrCodeNotFound, "not found"),
			expected: "[NOT_FOUND] not found",
		},
		{
			name:     "error with cause",
			err:      Wrap(ErrCodeInternal, "failed", errors.New("root cause")),
			expected: "[INTERNAL] failed: root cause",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestFromKubernetes(t *testing.T) {
	gr := schema.GroupResource{Resource: "persistentvolumes"}

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not found", k8serrors.NewNotFound(gr, "pv"), ErrCodeNotFound},
		{"already exists", k8serrors.NewAlreadyExists(gr, "pv"), ErrCodeAlreadyExists},
		{"conflict", k8serrors.NewConflict(gr, "pv", errors.New("stale")), ErrCodeConflict},
		{"bad request", k8serrors.NewBadRequest("nope"), ErrCodeInvalidRequest},
		{"unavailable", k8serrors.NewServiceUnavailable("down"), ErrCodeUnavailable},
		{"unclassified", errors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromKubernetes("apply", tt.err)
			if !HasCode(err, tt.want) {
				t.Errorf("FromKubernetes() = %v, want code %s", err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("expected original error in chain")
			}
		})
	}

	if FromKubernetes("apply", nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestHasCode(t *testing.T) {
	inner := New(ErrCodeAlreadyExists, "exists")
	outer := Wrap(ErrCodeConflict, "persistent volume already existed", inner)
	wrapped := fmt.Errorf("init: %w", outer)

	if !HasCode(wrapped, ErrCodeConflict) {
		t.Error("expected CONFLICT in chain")
	}
	if !HasCode(wrapped, ErrCodeAlreadyExists) {
		t.Error("expected ALREADY_EXISTS in chain")
	}
	if HasCode(wrapped, ErrCodeTimeout) {
		t.Error("did not expect TIMEOUT in chain")
	}
	if HasCode(errors.New("plain"), ErrCodeInternal) {
		t.Error("plain error has no code")
	}
}
