// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "install update"},
			expected: "failed to install update",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "load configuration", Resource: "./config.cue"},
			expected: "failed to load configuration: ./config.cue",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "load configuration",
				Resource:  "./config.cue",
				Cause:     errors.New("file not found"),
			},
			expected: "failed to load configuration: ./config.cue: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ActionableError{Operation: "test", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if (&ActionableError{Operation: "test"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestActionableError_Format(t *testing.T) {
	inner := errors.New("permission denied")
	err := &ActionableError{
		Operation:   "install update",
		Resource:    "/srv/widget",
		Suggestions: []string{"Check write permission", "Retry with sudo"},
		Cause:       WrapWithContext(inner, "swap directory", "/srv/widget.bak"),
	}

	short := err.Format(false)
	for _, want := range []string{"failed to install update", "• Check write permission", "• Retry with sudo"} {
		if !strings.Contains(short, want) {
			t.Errorf("Format(false) missing %q:\n%s", want, short)
		}
	}
	if strings.Contains(short, "Error chain") {
		t.Error("non-verbose output must not include the error chain")
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "Error chain:") || !strings.Contains(verbose, "2. permission denied") {
		t.Errorf("verbose output should list the chain:\n%s", verbose)
	}
}

func TestErrorContext_Build(t *testing.T) {
	cause := errors.New("boom")
	ae := NewErrorContext().
		WithOperation("resolve download URL").
		WithResource("acme/widget").
		WithSuggestion("one").
		WithSuggestions("two", "three").
		WithIssue(ResolutionFailedId).
		Wrap(cause).
		Build()

	if ae == nil {
		t.Fatal("Build() returned nil")
	}
	if ae.Operation != "resolve download URL" || ae.Resource != "acme/widget" {
		t.Errorf("unexpected context %+v", ae)
	}
	if len(ae.Suggestions) != 3 || !ae.HasSuggestions() {
		t.Errorf("got suggestions %v", ae.Suggestions)
	}
	if !errors.Is(ae, cause) {
		t.Error("cause not wrapped")
	}
	if g := ae.Guidance(); g == nil || g.Id() != ResolutionFailedId {
		t.Errorf("Guidance() = %v", g)
	}
}

func TestErrorContext_BuildWithoutOperation(t *testing.T) {
	if NewErrorContext().Wrap(errors.New("x")).Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() without operation should return untyped nil, got %v", err)
	}
	if (&ActionableError{Operation: "x"}).Guidance() != nil {
		t.Error("Guidance() without an issue should be nil")
	}
}

func TestWrapWithContext(t *testing.T) {
	if WrapWithContext(nil, "op", "res") != nil {
		t.Error("nil error should stay nil")
	}

	var ae *ActionableError
	err := error(WrapWithContext(errors.New("x"), "op", "res"))
	if !errors.As(err, &ae) || ae.Resource != "res" {
		t.Errorf("got %v", err)
	}
}
