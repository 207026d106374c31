package logger

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"bogus", logrus.InfoLevel},
	}

	for _, tt := range tests {
		l := New(tt.level, "text")
		if l.GetLevel() != tt.want {
			t.Errorf("level %q: expected %v, got %v", tt.level, tt.want, l.GetLevel())
		}
	}
}

func TestNew_Silent(t *testing.T) {
	l := New("silent", "text")
	if l.Out != io.Discard {
		t.Error("Expected silent logger to discard output")
	}
}

func TestNew_JSON(t *testing.T) {
	l := New("info", "json")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithField("room", "ABC").Info("created")
	if !bytes.Contains(buf.Bytes(), []byte(`"room":"ABC"`)) {
		t.Errorf("Expected JSON field in output, got %s", buf.String())
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("Expected a logger for nil input")
	}
	l := logrus.New()
	if OrNop(l) != l {
		t.Error("Expected the given logger to be returned")
	}
}
