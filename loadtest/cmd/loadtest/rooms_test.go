package main

import (
	"testing"
	"time"
)

func TestProbeRoundTrip(t *testing.T) {
	at := time.Unix(1700000000, 123456789)
	text := probeText(7, at)

	got, ok := probeSentAt(text)
	if !ok {
		t.Fatalf("probeSentAt(%q) failed", text)
	}
	if !got.Equal(at) {
		t.Errorf("probeSentAt = %v, want %v", got, at)
	}
}

func TestProbeSentAtRejects(t *testing.T) {
	for _, text := range []string{
		"hello",
		"lt:",
		"lt:3",
		"lt:3:notanumber",
		"@川小农 lt:3:1",
	} {
		if _, ok := probeSentAt(text); ok {
			t.Errorf("probeSentAt(%q) = ok, want rejected", text)
		}
	}
}

func TestNames(t *testing.T) {
	if got := userName(42); got != "lt-00042" {
		t.Errorf("userName(42) = %q", got)
	}
	if got := roomName(7); got != "loadtest-007" {
		t.Errorf("roomName(7) = %q", got)
	}
}
