package log

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{name: "trace", level: "trace", expected: logrus.TraceLevel},
		{name: "debug", level: "debug", expected: logrus.DebugLevel},
		{name: "warn", level: "warn", expected: logrus.WarnLevel},
		{name: "warning alias", level: "warning", expected: logrus.WarnLevel},
		{name: "error", level: "error", expected: logrus.ErrorLevel},
		{name: "fatal", level: "fatal", expected: logrus.FatalLevel},
		{name: "unknown falls back to info", level: "verbose", expected: logrus.InfoLevel},
		{name: "empty falls back to info", level: "", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			l.SetLevel(tt.level)
			if got := l.GetLogrus().GetLevel(); got != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, got)
			}
		})
	}
}
