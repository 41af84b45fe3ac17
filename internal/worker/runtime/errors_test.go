package runtime_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	cases := []struct {
		kind     runtime.Kind
		sentinel error
	}{
		{runtime.KindNotFound, runtime.ErrNotFound},
		{runtime.KindConflict, runtime.ErrConflict},
		{runtime.KindPruneInProgress, runtime.ErrPruneInProgress},
		{runtime.KindUnavailable, runtime.ErrUnavailable},
	}
	for _, tc := range cases {
		err := fmt.Errorf("wrapped: %w", runtime.NewError("get", "abc", tc.kind, errors.New("boom")))
		if !errors.Is(err, tc.sentinel) {
			t.Errorf("kind %v: expected errors.Is(%v)", tc.kind, tc.sentinel)
		}
		if got := runtime.KindOf(err); got != tc.kind {
			t.Errorf("KindOf = %v, want %v", got, tc.kind)
		}
	}
}

func TestError_DoesNotMatchOtherKinds(t *testing.T) {
	err := runtime.NewError("stop", "abc", runtime.KindConflict, nil)
	if runtime.IsNotFound(err) {
		t.Error("conflict must not be reported as not found")
	}
	if errors.Is(err, runtime.ErrPruneInProgress) {
		t.Error("conflict must not match prune in progress")
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := runtime.KindOf(errors.New("plain")); got != runtime.KindUnknown {
		t.Errorf("expected KindUnknown, got %v", got)
	}
}

func TestContainerState_Alive(t *testing.T) {
	alive := map[runtime.ContainerState]bool{
		runtime.StateRunning:  true,
		runtime.StateStarting: true,
		runtime.StateCreated:  false,
		runtime.StateExited:   false,
		runtime.StateDead:     false,
		runtime.StateUnknown:  false,
	}
	for state, want := range alive {
		if got := state.Alive(); got != want {
			t.Errorf("%s.Alive() = %v, want %v", state, got, want)
		}
	}
}
