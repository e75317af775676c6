package domain_test

import (
	"errors"
	"testing"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
)

func TestWeekday_NumberMatchesTimeWeekday(t *testing.T) {
	if domain.Sunday.Number() != 0 || domain.Saturday.Number() != 6 {
		t.Fatal("Weekday numbering must match time.Weekday: Sunday=0..Saturday=6")
	}
}

func TestParseWeekday_FullAndAbbreviated(t *testing.T) {
	cases := map[string]domain.Weekday{
		"Monday": domain.Monday,
		"mon":    domain.Monday,
		"FRIDAY": domain.Friday,
		"sat":    domain.Saturday,
	}
	for input, want := range cases {
		got, err := domain.ParseWeekday(input)
		if err != nil {
			t.Fatalf("ParseWeekday(%q): unexpected error %v", input, err)
		}
		if got != want {
			t.Errorf("ParseWeekday(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseWeekday_Invalid(t *testing.T) {
	_, err := domain.ParseWeekday("funday")
	if !errors.Is(err, domain.ErrInvalidWeekday) {
		t.Errorf("want ErrInvalidWeekday, got %v", err)
	}
}

func TestParseWeekdays_Collections(t *testing.T) {
	weekdays, err := domain.ParseWeekdays("weekdays")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(weekdays) != 5 {
		t.Fatalf("weekdays: got %d days, want 5", len(weekdays))
	}

	weekends, err := domain.ParseWeekdays("weekends")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(weekends) != 2 {
		t.Fatalf("weekends: got %d days, want 2", len(weekends))
	}

	everyday, err := domain.ParseWeekdays("daily")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(everyday) != 7 {
		t.Fatalf("daily: got %d days, want 7", len(everyday))
	}
}

func TestParseWeekdays_SingleDayFallsThrough(t *testing.T) {
	got, err := domain.ParseWeekdays("tuesday")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != domain.Tuesday {
		t.Errorf("ParseWeekdays(\"tuesday\") = %v, want [Tuesday]", got)
	}
}
