package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFlow_Length(t *testing.T) {
	if got := Flow(); len(got) != 26 {
		t.Errorf("Flow() length = %d, want 26", len(got))
	}
}

func TestFlow_CharacterSet(t *testing.T) {
	for i := 0; i < 200; i++ {
		fid := Flow()
		for _, c := range fid {
			if !validChar(byte(c)) {
				t.Fatalf("Flow() = %q, invalid character %c", fid, c)
			}
		}
		// Crockford's Base32 excludes I, L, O, U.
		if strings.ContainsAny(fid, "ILOU") {
			t.Fatalf("Flow() = %q contains excluded character", fid)
		}
	}
}

func TestFlow_Uniqueness(t *testing.T) {
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		fid := Flow()
		if seen[fid] {
			t.Fatalf("duplicate id %s at iteration %d", fid, i)
		}
		seen[fid] = true
	}
}

func TestFlow_TimeSortable(t *testing.T) {
	prev := Flow()
	for i := 0; i < 200; i++ {
		curr := Flow()
		if curr[:10] < prev[:10] {
			t.Fatalf("timestamp prefix regressed: %s after %s", curr, prev)
		}
		prev = curr
	}
}

func TestFlow_Concurrent(t *testing.T) {
	const goroutines = 32
	const perGoroutine = 250

	results := make(chan string, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				results <- Flow()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, goroutines*perGoroutine)
	for fid := range results {
		if seen[fid] {
			t.Fatalf("concurrent duplicate id %s", fid)
		}
		seen[fid] = true
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"generated", Flow(), true},
		{"all zeros", "00000000000000000000000000", true},
		{"empty", "", false},
		{"too short", "01ARZ3NDEKTSV4RRFFQ69G5FA", false},
		{"lowercase", strings.ToLower(Flow()), false},
		{"excluded char", "01ARZ3NDIKTSV4RRFFQ69G5FAV", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.in); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTime_RoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	fid := Flow()
	after := time.Now().Add(time.Second)

	ts, ok := Time(fid)
	if !ok {
		t.Fatalf("Time(%q) not ok", fid)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("Time(%q) = %v, outside [%v, %v]", fid, ts, before, after)
	}
}

func TestTime_Invalid(t *testing.T) {
	if _, ok := Time("not-a-flow-id"); ok {
		t.Error("Time accepted malformed id")
	}
}

func BenchmarkFlow(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Flow()
	}
}
