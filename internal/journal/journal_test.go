package journal

import (
	"testing"
	"time"
)

func TestRecordAndSnapshot(t *testing.T) {
	j := New(8)

	j.Record(SeverityInfo, "hello %s", "world")
	j.Record(SeverityWarning, "careful")
	j.Record(SeverityError, "boom")

	entries := j.Entries()
	if len(entries) != 3 {
		t.Fatalf("%d entries, want 3", len(entries))
	}
	if entries[0].Message != "hello world" {
		t.Errorf("formatted message %q", entries[0].Message)
	}
	if entries[0].Severity != SeverityInfo ||
		entries[1].Severity != SeverityWarning ||
		entries[2].Severity != SeverityError {
		t.Error("severities not preserved in order")
	}
	for i, e := range entries {
		if e.ID == "" {
			t.Errorf("entry %d has no id", i)
		}
		if e.Time.IsZero() {
			t.Errorf("entry %d has no timestamp", i)
		}
	}
	if entries[0].ID == entries[1].ID {
		t.Error("entry ids not unique")
	}
}

func TestCapacityDropsOldest(t *testing.T) {
	j := New(3)
	for i := 0; i < 5; i++ {
		j.Record(SeverityInfo, "entry %d", i)
	}

	if j.Len() != 3 {
		t.Fatalf("Len %d, want 3", j.Len())
	}
	entries := j.Entries()
	for i, want := range []string{"entry 2", "entry 3", "entry 4"} {
		if entries[i].Message != want {
			t.Errorf("entry %d is %q, want %q", i, entries[i].Message, want)
		}
	}
}

func TestZeroCapacityClamped(t *testing.T) {
	j := New(0)
	j.Record(SeverityInfo, "only one")
	j.Record(SeverityInfo, "replaces it")

	if j.Len() != 1 {
		t.Fatalf("Len %d, want 1", j.Len())
	}
	if got := j.Entries()[0].Message; got != "replaces it" {
		t.Errorf("retained %q", got)
	}
}

func TestOnAppendObserver(t *testing.T) {
	j := New(8)
	var seen []Entry
	j.OnAppend(func(e Entry) { seen = append(seen, e) })

	j.Record(SeverityInfo, "first")
	j.Record(SeverityError, "second")

	if len(seen) != 2 {
		t.Fatalf("observer saw %d entries, want 2", len(seen))
	}
	if seen[1].Severity != SeverityError || seen[1].Message != "second" {
		t.Errorf("observer entry wrong: %+v", seen[1])
	}
}

func TestSnapshotIsolation(t *testing.T) {
	j := New(8)
	j.Record(SeverityInfo, "original")

	snap := j.Entries()
	snap[0].Message = "mutated"

	if got := j.Entries()[0].Message; got != "original" {
		t.Errorf("snapshot mutation leaked into journal: %q", got)
	}
}

func TestConcurrentRecords(t *testing.T) {
	j := New(64)
	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			for i := 0; i < 16; i++ {
				j.Record(SeverityInfo, "g%d-%d", g, i)
			}
			done <- struct{}{}
		}(g)
	}
	for g := 0; g < 4; g++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("writer %d stuck", g)
		}
	}
	if j.Len() != 64 {
		t.Fatalf("Len %d, want 64", j.Len())
	}
}
