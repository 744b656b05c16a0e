package env

import (
	"testing"
	"time"
)

func TestInt(t *testing.T) {
	t.Setenv("TEST_INT", "25")
	if got := Int("TEST_INT", 5); got != 25 {
		t.Errorf("Int = %d, want 25", got)
	}
	if got := Int("TEST_INT_MISSING", 5); got != 5 {
		t.Errorf("Int fallback = %d, want 5", got)
	}
	t.Setenv("TEST_INT_BAD", "-3")
	if got := Int("TEST_INT_BAD", 5); got != 5 {
		t.Errorf("Int negative = %d, want fallback 5", got)
	}
}

func TestDurationMillis(t *testing.T) {
	t.Setenv("TEST_MS", "1500")
	if got := DurationMillis("TEST_MS", time.Second); got != 1500*time.Millisecond {
		t.Errorf("DurationMillis = %v, want 1.5s", got)
	}
	if got := DurationMillis("TEST_MS_MISSING", time.Second); got != time.Second {
		t.Errorf("DurationMillis fallback = %v, want 1s", got)
	}
	t.Setenv("TEST_MS_BAD", "soon")
	if got := DurationMillis("TEST_MS_BAD", time.Second); got != time.Second {
		t.Errorf("DurationMillis junk = %v, want fallback 1s", got)
	}
}

func TestCSV(t *testing.T) {
	t.Setenv("TEST_CSV", " a, b ,a,, c ")
	got := CSV("TEST_CSV", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("CSV = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CSV[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	fallback := CSV("TEST_CSV_MISSING", []string{"x"})
	if len(fallback) != 1 || fallback[0] != "x" {
		t.Errorf("CSV fallback = %v, want [x]", fallback)
	}
}
