package toolrunner

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRunReportsMissingCommand(t *testing.T) {
	r := New()
	_, err := r.Run(context.Background(), "no-such-command-for-sure", "arg")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
	if notFound.Name != "no-such-command-for-sure" {
		t.Fatalf("unexpected command name: %s", notFound.Name)
	}
}

func TestRunCapturesCombinedOutput(t *testing.T) {
	r := New()
	out, err := r.Run(context.Background(), "sh", "-c", "echo stdout-line; echo stderr-line 1>&2")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(out, "stdout-line") || !strings.Contains(out, "stderr-line") {
		t.Fatalf("output missing streams: %q", out)
	}
}

func TestRunReturnsExecErrorOnFailure(t *testing.T) {
	r := New()
	out, err := r.Run(context.Background(), "sh", "-c", "echo broken; exit 1")
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecError", err)
	}
	if !strings.Contains(execErr.Output, "broken") {
		t.Fatalf("ExecError output = %q, want captured text", execErr.Output)
	}
	if !strings.Contains(out, "broken") {
		t.Fatalf("returned output = %q, want captured text", out)
	}
}

func TestRunExitReturnsExitCodeWithoutError(t *testing.T) {
	r := New()
	_, code, err := r.RunExit(context.Background(), "sh", "-c", "exit 10")
	if err != nil {
		t.Fatalf("RunExit returned error: %v", err)
	}
	if code != 10 {
		t.Fatalf("exit code = %d, want 10", code)
	}
}

func TestRunExitZeroOnSuccess(t *testing.T) {
	r := New()
	out, code, err := r.RunExit(context.Background(), "sh", "-c", "echo ok")
	if err != nil {
		t.Fatalf("RunExit returned error: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, "ok") {
		t.Fatalf("unexpected output: %q", out)
	}
}
