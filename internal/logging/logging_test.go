package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, false)

	l.Infof("should not appear")
	l.Warnf("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("info message leaked through at warn level: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("expected warn message in output, got %q", out)
	}
}

func TestLogger_NoColorWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, false)
	l.Errorf("boom")
	if strings.Contains(buf.String(), "\033[") {
		t.Fatalf("expected no ANSI codes, got %q", buf.String())
	}
}

func TestLogger_ColorWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, true)
	l.Errorf("boom")
	if !strings.Contains(buf.String(), "\033[") {
		t.Fatalf("expected ANSI codes, got %q", buf.String())
	}
}

func TestTaskStream_PrefixesCompleteLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, false)
	w := l.TaskStream("build")

	w.Write([]byte("line one\nline "))
	w.Write([]byte("two\n"))

	out := buf.String()
	if !strings.Contains(out, "[build] line one") || !strings.Contains(out, "[build] line two") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
	}
	for s, want := range cases {
		got, ok := ParseLevel(s)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v, true", s, got, ok, want)
		}
	}
	if _, ok := ParseLevel("bogus"); ok {
		t.Fatal("expected ParseLevel to reject an unknown level")
	}
}
