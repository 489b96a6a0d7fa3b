package mocklogger

import (
	"testing"

	"github.com/hugolhafner/go-transformer/logger"
)

func (m *MockLogger) AssertCalledWithMessage(tb testing.TB, message string) {
	for _, entry := range m.Entries() {
		if entry.Message == message {
			return
		}
	}

	tb.Errorf("expected log message '%s' to be called", message)
}

func (m *MockLogger) AssertCalledWithLevel(tb testing.TB, level logger.LogLevel) {
	for _, entry := range m.Entries() {
		if entry.Level == level {
			return
		}
	}

	tb.Errorf("expected log level '%s' to be called", level.String())
}

func (m *MockLogger) AssertCalledWithLevelAndMessage(tb testing.TB, level logger.LogLevel, message string) {
	for _, entry := range m.Entries() {
		if entry.Level == level && entry.Message == message {
			return
		}
	}

	tb.Errorf("expected log with level '%s' and message '%s' to be called", level.String(), message)
}

func (m *MockLogger) AssertNotCalledWithMessage(tb testing.TB, message string) {
	for _, entry := range m.Entries() {
		if entry.Message == message {
			tb.Errorf("expected log message '%s' to NOT be called", message)
			return
		}
	}
}

func (m *MockLogger) AssertNotCalledWithLevel(tb testing.TB, level logger.LogLevel) {
	for _, entry := range m.Entries() {
		if entry.Level == level {
			tb.Errorf("expected log level '%s' to NOT be called", level.String())
			return
		}
	}
}

func (m *MockLogger) AssertCalled(tb testing.TB, level logger.LogLevel, message string, kv ...any) {
	for _, entry := range m.Entries() {
		if entry.Level != level || entry.Message != message {
			continue
		}

		if containsPairs(entry.KV, kv) {
			return
		}
	}

	tb.Errorf("expected log with level '%s' and message '%s' to be called", level.String(), message)
}

// containsPairs reports whether every key/value pair in want is present in got.
func containsPairs(got, want []any) bool {
	for i := 0; i+1 < len(want); i += 2 {
		found := false
		for j := 0; j+1 < len(got); j += 2 {
			if got[j] == want[i] && got[j+1] == want[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Count returns how many entries were logged with the given message.
func (m *MockLogger) Count(message string) int {
	n := 0
	for _, entry := range m.Entries() {
		if entry.Message == message {
			n++
		}
	}
	return n
}
