package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected 'test message' in output, got: %s", output)
	}
}

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, true, &buf)

	Info("test message", "key", "value")

	output := buf.String()
	// JSON output should contain braces
	if !strings.Contains(output, "{") {
		t.Errorf("Expected JSON output, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected 'test message' in output, got: %s", output)
	}
}

func TestSetup_VerboseMode(t *testing.T) {
	var buf bytes.Buffer
	Setup(true, false, &buf)

	if !Verbose {
		t.Error("Verbose flag should be true after Setup(true, ...)")
	}

	Debug("debug message")

	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Debug message should appear in verbose mode, got: %s", output)
	}
}

func TestSetup_NonVerboseMode(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	if Verbose {
		t.Error("Verbose flag should be false after Setup(false, ...)")
	}

	Debug("debug message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Errorf("Debug message should NOT appear in non-verbose mode, got: %s", output)
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name string
		log  func(string, ...any)
	}{
		{"debug", Debug},
		{"info", Info},
		{"warn", Warn},
		{"error", Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Setup(true, false, &buf)

			tt.log(tt.name+" test", "key", "value")

			if !strings.Contains(buf.String(), tt.name+" test") {
				t.Errorf("Expected %q in output, got: %s", tt.name+" test", buf.String())
			}
		})
	}
}

func TestRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, true, &buf)

	Info("rejected connection", "token", "eyJhbGciOi.payload.sig", "Secret", "hunter2", "subject", "bob")

	output := buf.String()
	for _, leaked := range []string{"eyJhbGciOi", "hunter2"} {
		if strings.Contains(output, leaked) {
			t.Errorf("output leaked %q: %s", leaked, output)
		}
	}
	if !strings.Contains(output, Redacted) {
		t.Errorf("Expected %q in output, got: %s", Redacted, output)
	}
	if !strings.Contains(output, "bob") {
		t.Errorf("non-sensitive attribute missing: %s", output)
	}
}

func TestSetVerbose(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	Debug("hidden")
	SetVerbose(true)
	Debug("shown")
	SetVerbose(false)

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("debug logged before SetVerbose(true): %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("debug missing after SetVerbose(true): %s", output)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	Component(nil, "relay").Info("listening")

	if !strings.Contains(buf.String(), "component=relay") {
		t.Errorf("Expected component=relay in output, got: %s", buf.String())
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	logger := With("component", "test")
	if logger == nil {
		t.Error("With() returned nil")
	}

	logger.Info("with test")

	output := buf.String()
	if !strings.Contains(output, "with test") {
		t.Errorf("Expected 'with test' in output, got: %s", output)
	}
	if !strings.Contains(output, "component") {
		t.Errorf("Expected 'component' in output, got: %s", output)
	}
}

func TestSetup_NilWriter(t *testing.T) {
	// Should not panic with nil writer
	Setup(false, false, nil)

	// Logger should still work (writes to stderr)
	if Logger == nil {
		t.Error("Logger should not be nil after Setup with nil writer")
	}
}

func TestSetup_InstallsDefault(t *testing.T) {
	var buf bytes.Buffer
	Setup(false, false, &buf)

	slog.Default().Info("via default")

	if !strings.Contains(buf.String(), "via default") {
		t.Errorf("slog.Default() should write through the configured handler, got: %s", buf.String())
	}
}

func TestUserOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	origOut, origErr := Stdout, Stderr
	Stdout, Stderr = &out, &errOut
	defer func() { Stdout, Stderr = origOut, origErr }()

	UserInfo("listening on %s", ":6080")
	UserSuccess("done")
	UserWarning("careful %d", 1)
	UserError("failed")

	if got := out.String(); got != "ℹ listening on :6080\n✓ done\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); got != "⚠ careful 1\n✗ failed\n" {
		t.Errorf("stderr = %q", got)
	}
}
