package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"error", zerolog.ErrorLevel},
		{"warn", zerolog.WarnLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := loggerLevel(tc.in); got != tc.want {
			t.Errorf("loggerLevel(%q) = %s; want %s", tc.in, got, tc.want)
		}
	}
}

func TestReadEventFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	body := `{"state": {"status": "AVAILABLE"}, "outputResources": {"amis": [{"image": "ami-0abc"}]}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	event, err := readEvent(path)
	if err != nil {
		t.Fatalf("readEvent() error = %v", err)
	}
	if !event.Available() || event.AMI != "ami-0abc" {
		t.Errorf("event = %+v", event)
	}
}

func TestReadEventMissingFile(t *testing.T) {
	if _, err := readEvent(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("readEvent() error = nil; want open failure")
	}
}

func TestDisplayAMI(t *testing.T) {
	if got := displayAMI(""); got != "none" {
		t.Errorf("displayAMI(\"\") = %q", got)
	}
	if got := displayAMI("ami-0abc"); got != "ami-0abc" {
		t.Errorf("displayAMI(ami-0abc) = %q", got)
	}
}
