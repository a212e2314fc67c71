package errs

import (
	"errors"
	"testing"
)

func TestWrapUnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindIO, cause, "read fd=%d", 7)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if kind, ok := KindOf(err); !ok || kind != KindIO {
		t.Errorf("expected KindIO, got %v (ok=%v)", kind, ok)
	}
}

func TestIsComparesKindNotMessage(t *testing.T) {
	a := New(KindSlabExhausted, "store A exhausted", nil)
	b := New(KindSlabExhausted, "store B exhausted", nil)
	if !errors.Is(a, b) {
		t.Error("expected two errors of the same Kind to satisfy errors.Is")
	}
	c := New(KindIO, "unrelated", nil)
	if errors.Is(a, c) {
		t.Error("expected errors of different Kinds not to satisfy errors.Is")
	}
}

func TestConfigurationError(t *testing.T) {
	err := ConfigurationError("threads must be > 0")
	kind, ok := KindOf(err)
	if !ok || kind != KindConfiguration {
		t.Errorf("expected KindConfiguration, got %v (ok=%v)", kind, ok)
	}
}

func TestErrSlabExhaustedSentinel(t *testing.T) {
	wrapped := Wrap(KindSlabExhausted, ErrSlabExhausted, "worker 3")
	if !errors.Is(wrapped, ErrSlabExhausted) {
		t.Error("expected wrapped error to match ErrSlabExhausted sentinel")
	}
}
