package hopslog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_DefaultsToInfoAndText(t *testing.T) {
	log, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.Level != logrus.InfoLevel {
		t.Errorf("Level = %v, want InfoLevel", log.Level)
	}
	if _, ok := log.Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("Formatter = %T, want *logrus.TextFormatter", log.Formatter)
	}
}

func TestNew_DebugLevelAndJSON(t *testing.T) {
	log, err := New(Options{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.Level != logrus.DebugLevel {
		t.Errorf("Level = %v, want DebugLevel", log.Level)
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Formatter = %T, want *logrus.JSONFormatter", log.Formatter)
	}
}

func TestNew_UnrecognizedLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Options{Level: "verbose"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.Level != logrus.InfoLevel {
		t.Errorf("Level = %v, want InfoLevel fallback", log.Level)
	}
}

func TestNew_WritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "hopsd.log")

	log, err := New(Options{FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected log file to contain output")
	}
}
