package domain

import (
	"testing"
	"time"
)

func TestParseFrequency(t *testing.T) {
	valid := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"30m": 30 * time.Minute,
		"1h":  time.Hour,
		"3h":  3 * time.Hour,
		"6h":  6 * time.Hour,
		"12h": 12 * time.Hour,
		"24h": 24 * time.Hour,
	}
	for s, want := range valid {
		f, err := ParseFrequency(s)
		if err != nil {
			t.Fatalf("ParseFrequency(%q): %v", s, err)
		}
		if got := f.Duration(); got != want {
			t.Errorf("Duration(%q) = %v, want %v", s, got, want)
		}
	}

	for _, s := range []string{"", "2h", "daily", "15M", "1d"} {
		if _, err := ParseFrequency(s); err == nil {
			t.Errorf("ParseFrequency(%q) should fail", s)
		}
	}
}

func TestFrequencyUnknownFallsBackToDaily(t *testing.T) {
	if got := Frequency("weekly").Duration(); got != 24*time.Hour {
		t.Errorf("unknown frequency duration = %v, want 24h", got)
	}
}

func TestChannelTargetsEmpty(t *testing.T) {
	if !(ChannelTargets{}).Empty() {
		t.Error("zero targets should be empty")
	}
	cases := []ChannelTargets{
		{WebhookURL: "https://example.com/hook"},
		{NtfyTopic: "alerts"},
		{SlackChannelID: "C123"},
		{EmailTo: "ops@example.com"},
	}
	for _, c := range cases {
		if c.Empty() {
			t.Errorf("targets %+v should not be empty", c)
		}
	}
}

func TestDefaultSchedule(t *testing.T) {
	s := DefaultSchedule()
	if s.Enabled {
		t.Error("default schedule should be disabled")
	}
	if s.Frequency != EveryHour {
		t.Errorf("default frequency = %q, want %q", s.Frequency, EveryHour)
	}
	if s.LastExecution != nil || s.NextExecution != nil {
		t.Error("fresh schedule should have no execution timestamps")
	}
}
