package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewAppliesRequestedLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for level, want := range cases {
		logger := New(level, "json")
		if logger.GetLevel() != want {
			t.Fatalf("New(%q, json).GetLevel() = %v, want %v", level, logger.GetLevel(), want)
		}
	}
}

func TestComponentTagsSubLogger(t *testing.T) {
	base := New("info", "json")
	sub := Component(base, "admission")
	if sub.GetLevel() != base.GetLevel() {
		t.Fatal("expected Component to preserve the base logger's level")
	}
}
