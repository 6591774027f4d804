package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseComponentLevels(t *testing.T) {
	levels := ParseComponentLevels(" transport=debug, parser=warn ,bogus, cache=nope,=info")

	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d (%v)", len(levels), levels)
	}
	if levels["transport"] != zerolog.DebugLevel {
		t.Errorf("transport: expected debug, got %s", levels["transport"])
	}
	if levels["parser"] != zerolog.WarnLevel {
		t.Errorf("parser: expected warn, got %s", levels["parser"])
	}
}

func TestComponentLevelsFor(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	base := zerolog.New(&buf).Level(zerolog.InfoLevel)
	levels := ComponentLevels{"transport": zerolog.DebugLevel, "parser": zerolog.ErrorLevel}

	transportLog := levels.For(base, "transport")
	parserLog := levels.For(base, "parser")
	facadeLog := levels.For(base, "facade")

	transportLog.Debug().Msg("transport debug")
	parserLog.Warn().Msg("parser warn")
	facadeLog.Debug().Msg("facade debug")
	facadeLog.Info().Msg("facade info")

	out := buf.String()
	if !strings.Contains(out, "transport debug") {
		t.Error("expected transport debug line to be written")
	}
	if strings.Contains(out, "parser warn") {
		t.Error("expected parser warn line to be filtered")
	}
	if strings.Contains(out, "facade debug") {
		t.Error("expected facade debug line to be filtered by the base level")
	}
	if !strings.Contains(out, `"component":"facade"`) {
		t.Error("expected component field on facade line")
	}
}
