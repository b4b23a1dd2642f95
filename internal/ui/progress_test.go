package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsole_Step(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Step("downloading engine")
	c.Step("extracting archive")

	out := buf.String()
	if !strings.Contains(out, "[1] downloading engine") {
		t.Errorf("missing first step line: %s", out)
	}
	if !strings.Contains(out, "[2] extracting archive") {
		t.Errorf("missing second step line: %s", out)
	}
}

func TestConsole_Logf(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Logf("fetched %d objects", 12)

	if !strings.Contains(buf.String(), "fetched 12 objects") {
		t.Errorf("missing log message: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic.
	Discard.Step("x")
	Discard.Logf("y %d", 1)
}
