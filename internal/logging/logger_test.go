// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"ERROR", zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCtxAddsCorrelationAndRunID(t *testing.T) {
	var buf bytes.Buffer
	old := Logger()
	SetLogger(NewTestLogger(&buf))
	defer SetLogger(old)

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	ctx = ContextWithRunID(ctx, 42)

	Ctx(ctx).Info().Msg("phase completed")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"abc12345"`) {
		t.Errorf("expected correlation_id in output, got %s", out)
	}
	if !strings.Contains(out, `"run_id":42`) {
		t.Errorf("expected run_id in output, got %s", out)
	}
}

func TestCtxWithoutValues(t *testing.T) {
	var buf bytes.Buffer
	old := Logger()
	SetLogger(NewTestLogger(&buf))
	defer SetLogger(old)

	Ctx(context.Background()).Info().Msg("plain")

	out := buf.String()
	if strings.Contains(out, "correlation_id") {
		t.Errorf("unexpected correlation_id in output: %s", out)
	}
	if strings.Contains(out, "run_id") {
		t.Errorf("unexpected run_id in output: %s", out)
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithNewCorrelationID(context.Background())
	id := CorrelationIDFromContext(ctx)
	if len(id) != 8 {
		t.Errorf("expected 8-char correlation ID, got %q", id)
	}
}
