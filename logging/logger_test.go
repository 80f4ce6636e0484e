package logging

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

type recordingWriter struct {
	lines []string
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.lines = append(w.lines, string(p))
	return len(p), nil
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()
	out := &recordingWriter{}
	logger := NewLogger("planner", NewWriterAppender(out))

	logger.Debug("hidden at info level")
	logger.Infow("motion started", "segment", 7)
	test.That(t, len(out.lines), test.ShouldEqual, 1)
	test.That(t, out.lines[0], test.ShouldContainSubstring, "INFO")
	test.That(t, out.lines[0], test.ShouldContainSubstring, "planner")
	test.That(t, out.lines[0], test.ShouldContainSubstring, "motion started")
	test.That(t, out.lines[0], test.ShouldContainSubstring, `"segment":7`)
}

func TestDebugLogger(t *testing.T) {
	t.Parallel()
	out := &recordingWriter{}
	logger := NewDebugLogger("tp", NewWriterAppender(out))

	logger.Debugf("tick %d", 42)
	test.That(t, len(out.lines), test.ShouldEqual, 1)
	test.That(t, out.lines[0], test.ShouldContainSubstring, "DEBUG")
	test.That(t, out.lines[0], test.ShouldContainSubstring, "tick 42")
}

func TestSublogger(t *testing.T) {
	t.Parallel()
	out := &recordingWriter{}
	logger := NewLogger("tp", NewWriterAppender(out)).Sublogger("blend")

	logger.Warn("arc rejected")
	test.That(t, len(out.lines), test.ShouldEqual, 1)
	test.That(t, out.lines[0], test.ShouldContainSubstring, "tp.blend")
}

func TestCallerToString(t *testing.T) {
	t.Parallel()
	out := &recordingWriter{}
	logger := NewLogger("", NewWriterAppender(out))
	logger.Info("hello")
	test.That(t, len(out.lines), test.ShouldEqual, 1)
	// caller is trimmed to package/file:line
	test.That(t, out.lines[0], test.ShouldContainSubstring, "logging/logger_test.go:")
	test.That(t, strings.Count(out.lines[0], "/"), test.ShouldEqual, 1)
}
