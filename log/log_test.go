package log

import (
	"testing"

	"github.com/hatlonely/rdbx/log/logger"
	"github.com/hatlonely/rdbx/ref"
)

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() should not be nil")
	}
	old := Default()
	defer SetDefault(old)

	nop := logger.Nop()
	SetDefault(nop)
	if Default() != nop {
		t.Error("SetDefault() did not replace the default logger")
	}
	SetDefault(nil)
	if Default() != nop {
		t.Error("SetDefault(nil) should be ignored")
	}
}

func TestNewLoggerWithOptions(t *testing.T) {
	l, err := NewLoggerWithOptions(nil)
	if err != nil || l != Default() {
		t.Fatalf("NewLoggerWithOptions(nil) = %v, %v", l, err)
	}

	l, err = NewLoggerWithOptions(&ref.TypeOptions{Type: "SLog", Options: &SLogOptions{Level: "debug"}})
	if err != nil || l == nil {
		t.Fatalf("NewLoggerWithOptions(SLog) = %v, %v", l, err)
	}

	if _, err := NewLoggerWithOptions(&ref.TypeOptions{Type: "SLog", Options: &SLogOptions{Level: "loud"}}); err == nil {
		t.Error("invalid level should fail")
	}
}

func TestManager(t *testing.T) {
	m, err := NewManagerWithOptions(Options{
		"default": {Type: "SLog", Options: &SLogOptions{Level: "warn"}},
		"migrate": {Type: "Nop"},
		"unused":  nil,
	})
	if err != nil {
		t.Fatalf("NewManagerWithOptions() error = %v", err)
	}
	if m.Get("migrate") == nil || m.Get("join") == nil {
		t.Error("Get() should never return nil")
	}

	if _, err := NewManagerWithOptions(Options{"bad": {Type: "Missing"}}); err == nil {
		t.Error("unknown logger type should fail")
	}
}
