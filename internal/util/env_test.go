package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("DONORPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("DONORPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"30m", 30 * time.Minute},
		{" 10s ", 10 * time.Second},
		{"0", 0},
		{"-5s", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("DONORPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("DONORPIPE_TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 8},
		{"16", 16},
		{"-1", 8},
		{"many", 8},
	}
	for _, tt := range tests {
		t.Setenv("DONORPIPE_TEST_INT", tt.value)
		if got := ParseIntEnv("DONORPIPE_TEST_INT", 8); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("DONORPIPE_TEST_STRING", "  ")
	if got := GetEnv("DONORPIPE_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("blank value should fall back, got %q", got)
	}
	t.Setenv("DONORPIPE_TEST_STRING", "set")
	if got := GetEnv("DONORPIPE_TEST_STRING", "fallback"); got != "set" {
		t.Errorf("GetEnv = %q, want set", got)
	}
}
