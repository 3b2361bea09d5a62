package messages

import (
	"strings"
	"testing"

	"silence-trimmer/internal/retry"
)

func TestEnglishFailureMessages(t *testing.T) {
	p := New("en")
	if got := p.Failure(retry.CategoryMemory); !strings.Contains(got, "memory") {
		t.Fatalf("unexpected memory message %q", got)
	}
	if got := p.Failure(retry.CategoryExhausted); got != "Processing failed after multiple attempts." {
		t.Fatalf("unexpected exhausted message %q", got)
	}
	if got := p.Failure(retry.Category("unknown")); !strings.Contains(got, "could not be processed") {
		t.Fatalf("expected generic fallback, got %q", got)
	}
}

func TestCompletedFormatsArguments(t *testing.T) {
	got := New("en").Completed(3, 12.25)
	if !strings.Contains(got, "3 silent sections") || !strings.Contains(got, "12.2") {
		t.Fatalf("unexpected completed message %q", got)
	}
}

func TestSpanishLocale(t *testing.T) {
	if got := New("es-MX").Queued(); got != "En cola." {
		t.Fatalf("expected spanish queued message, got %q", got)
	}
}

func TestUnknownLocaleFallsBackToEnglish(t *testing.T) {
	if got := New("not a locale").Queued(); got != "Waiting in queue." {
		t.Fatalf("expected english fallback, got %q", got)
	}
	if got := New("ja").Queued(); got != "Waiting in queue." {
		t.Fatalf("expected english fallback for unsupported locale, got %q", got)
	}
}
