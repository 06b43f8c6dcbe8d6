package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKV_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.KVSet("sess", "current_branch", "feature/retry-logic"); err != nil {
		t.Fatal(err)
	}
	got, err := s.KVGet("sess", "current_branch")
	if err != nil {
		t.Fatal(err)
	}
	if got != "feature/retry-logic" {
		t.Fatalf("got %q", got)
	}

	if err := s.KVSet("sess", "current_branch", "main"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.KVGet("sess", "current_branch")
	if got != "main" {
		t.Fatalf("overwrite failed, got %q", got)
	}

	if err := s.KVDelete("sess", "current_branch"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.KVGet("sess", "current_branch"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.KVDelete("sess", "current_branch"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestKVList_SortedByKey(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []string{"zeta", "alpha", "mid"} {
		if err := s.KVSet("sess", k, "v"); err != nil {
			t.Fatal(err)
		}
	}
	pairs, err := s.KVList("sess")
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 3 || pairs[0].Key != "alpha" || pairs[2].Key != "zeta" {
		t.Fatalf("expected sorted keys, got %+v", pairs)
	}
	if pairs[0].UpdatedAt.IsZero() {
		t.Fatal("expected updatedAt to be set")
	}
}

func TestKVSet_KeyCap(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < kvMaxKeys; i++ {
		if err := s.KVSet("sess", fmt.Sprintf("key%02d", i), "v"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.KVSet("sess", "onemore", "v"); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity at %d keys, got %v", kvMaxKeys, err)
	}
	// Overwriting an existing key is still allowed at the cap.
	if err := s.KVSet("sess", "key00", "updated"); err != nil {
		t.Fatalf("overwrite at cap should succeed, got %v", err)
	}
}

func TestKVSet_ValueTooLong(t *testing.T) {
	s := newTestStore(t)
	err := s.KVSet("sess", "k", strings.Repeat("v", kvMaxValueLen+1))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestKVSet_TotalBudget(t *testing.T) {
	s := newTestStore(t)
	value := strings.Repeat("v", kvMaxValueLen)
	var failed bool
	for i := 0; i < kvMaxKeys; i++ {
		key := fmt.Sprintf("long-padding-key-%02d", i)
		if err := s.KVSet("sess", key, value); err != nil {
			if !errors.Is(err, ErrCapacity) {
				t.Fatalf("set %d: expected ErrCapacity, got %v", i, err)
			}
			failed = true
			break
		}
	}
	if !failed {
		t.Fatalf("expected the %d-byte budget to reject before %d max-size values",
			kvMaxTotalBytes, kvMaxKeys)
	}
}

func TestKVSet_Validation(t *testing.T) {
	s := newTestStore(t)
	if err := s.KVSet("sess", "  ", "v"); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank key: expected ErrValidation, got %v", err)
	}
	if err := s.KVSet("sess", strings.Repeat("k", kvMaxKeyLen+1), "v"); !errors.Is(err, ErrValidation) {
		t.Fatalf("oversized key: expected ErrValidation, got %v", err)
	}
}
