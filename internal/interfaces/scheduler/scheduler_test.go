package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		input   string
		want    ScheduleTime
		wantErr bool
	}{
		{"05:00", ScheduleTime{Hour: 5, Minute: 0}, false},
		{"17:30", ScheduleTime{Hour: 17, Minute: 30}, false},
		{"0:0", ScheduleTime{Hour: 0, Minute: 0}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"-1:00", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
	}

	for _, tt := range tests {
		got, err := ParseScheduleTime(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseScheduleTime(%q) expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseScheduleTime(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_RejectsEmptySchedule(t *testing.T) {
	if _, err := New(Config{WorkerCount: 1, QueueSize: 1}); err == nil {
		t.Error("New() with no schedule times expected error, got nil")
	}
}

func TestNew_RejectsBadScheduleTime(t *testing.T) {
	if _, err := New(Config{ScheduleTimes: []string{"25:00"}, WorkerCount: 1, QueueSize: 1}); err == nil {
		t.Error("New() with invalid schedule time expected error, got nil")
	}
}

func TestShouldRun(t *testing.T) {
	s, err := New(Config{ScheduleTimes: []string{"05:00", "17:00"}, WorkerCount: 1, QueueSize: 1})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	fiveAM := time.Date(2024, time.May, 15, 5, 0, 30, 0, time.UTC)
	if !s.shouldRun(fiveAM) {
		t.Error("shouldRun(05:00) = false, want true")
	}
	// Same minute must not fire twice.
	if s.shouldRun(fiveAM.Add(10 * time.Second)) {
		t.Error("shouldRun fired twice within the same minute")
	}

	fivePM := time.Date(2024, time.May, 15, 17, 0, 0, 0, time.UTC)
	if !s.shouldRun(fivePM) {
		t.Error("shouldRun(17:00) = false, want true")
	}

	offSchedule := time.Date(2024, time.May, 15, 9, 30, 0, 0, time.UTC)
	if s.shouldRun(offSchedule) {
		t.Error("shouldRun(09:30) = true, want false")
	}

	// The same slot fires again on the next day.
	nextDay := fiveAM.AddDate(0, 0, 1)
	if !s.shouldRun(nextDay) {
		t.Error("shouldRun(next day 05:00) = false, want true")
	}
}
