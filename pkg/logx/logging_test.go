package logx

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"TRACE":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"  Info ": zerolog.InfoLevel,
		"WARNING": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroValueLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger must report IsZero")
	}
	// Must not panic.
	l.Info("nothing happens", String("k", "v"), Err(errors.New("e")))
	l.With(Int("n", 1)).Warn("still nothing")
}

func TestNopLoggerNotZero(t *testing.T) {
	l := Nop()
	if l.IsZero() {
		t.Fatal("Nop must not be the zero value, components test IsZero to substitute it")
	}
	l.Error("dropped")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	parent := Nop().With(String("a", "1"))
	child := parent.With(String("b", "2"))
	if len(parent.fields) != 1 {
		t.Fatalf("parent fields = %d, want 1", len(parent.fields))
	}
	if len(child.fields) != 2 {
		t.Fatalf("child fields = %d, want 2", len(child.fields))
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	l := NewConsole("warn")
	if l.Enabled(LevelDebug) {
		t.Fatal("debug must be disabled at warn level")
	}
	if !l.Enabled(LevelError) {
		t.Fatal("error must be enabled at warn level")
	}
}
