package device

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorf_MatchesKind(t *testing.T) {
	err := Errorf(ErrValidation, "invalid trigger line %d", 5)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("errors.Is(err, ErrValidation) = false for %v", err)
	}
	if errors.Is(err, ErrHardwareCommand) {
		t.Errorf("err matched an unrelated kind: %v", err)
	}
	want := "invalid trigger line 5: validation"
	if err.Error() != want {
		t.Errorf("err.Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorf_PreservesWrappedCause(t *testing.T) {
	cause := errors.New("sdk timeout")
	err := Errorf(ErrHardwareCommand, "start acquisition: %w", cause)

	// Both the cause and the kind must be reachable through the chain.
	if !errors.Is(err, cause) {
		t.Errorf("wrapped cause lost: %v", err)
	}
	if !errors.Is(err, ErrHardwareCommand) {
		t.Errorf("kind lost after wrapping a cause: %v", err)
	}
}

func TestErrorf_RewrapKeepsInnerKind(t *testing.T) {
	inner := Errorf(ErrCapacity, "buffer too small")
	outer := fmt.Errorf("get frame: %w", inner)
	if !errors.Is(outer, ErrCapacity) {
		t.Errorf("kind not matchable through an outer wrap: %v", outer)
	}
}

func TestErrKind_Error(t *testing.T) {
	if got := ErrHardwareQuery.Error(); got != "hardware_query" {
		t.Errorf("ErrHardwareQuery.Error() = %q", got)
	}
}
