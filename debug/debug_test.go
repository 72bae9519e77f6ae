package debug

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestPrintfRespectsToggle(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	}()

	was := Enabled()
	defer func() {
		if was {
			Enable()
		} else {
			Disable()
		}
	}()

	Disable()
	Printf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("expected no output while disabled, got %q", buf.String())
	}

	Enable()
	Printf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Fatalf("expected traced line, got %q", buf.String())
	}
}
