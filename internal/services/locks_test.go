package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestNormalizeKeys(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{nil, []string{}},
		{[]string{"", ""}, []string{}},
		{[]string{"b", "a", "b", ""}, []string{"a", "b"}},
		{[]string{catalogKey, "fy-1"}, []string{catalogKey, "fy-1"}},
	}
	for _, tt := range tests {
		if got := normalizeKeys(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("normalizeKeys(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLocksExclusivePerKey(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	release, err := locks.Acquire(ctx, "fy-1", "fy-2")
	if err != nil {
		t.Fatal(err)
	}

	// A disjoint key is free.
	other, err := locks.Acquire(ctx, "fy-3")
	if err != nil {
		t.Fatalf("disjoint key should not block: %v", err)
	}
	other()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(short, "fy-2", "fy-3"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected overlapping acquire to time out, got %v", err)
	}

	// The failed attempt must not leave fy-3 held.
	free, err := locks.Acquire(ctx, "fy-3")
	if err != nil {
		t.Fatal(err)
	}
	free()

	release()
	again, err := locks.Acquire(ctx, "fy-2", "fy-1")
	if err != nil {
		t.Fatalf("expected keys to be free after release: %v", err)
	}
	again()
}

func TestLocksNoKeys(t *testing.T) {
	release, err := NewLocks().Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	release()
}
