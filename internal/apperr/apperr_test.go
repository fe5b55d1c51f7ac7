package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := NotFound("job %s not found", "01X")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found kind, got %v", KindOf(err))
	}
	if err.Error() != "not_found: job 01X not found" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := InvalidTransition("job is completed")
	wrapped := fmt.Errorf("validate code: %w", inner)
	if !IsKind(wrapped, KindInvalidTransition) {
		t.Fatalf("expected wrapped error to keep its kind")
	}
	if IsKind(errors.New("plain"), KindInvalidTransition) {
		t.Fatalf("plain error must not match a kind")
	}
}
