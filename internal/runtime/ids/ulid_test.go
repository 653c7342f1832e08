package ids

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestCorrelationKeysSortByCreation(t *testing.T) {
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = NewCorrelationKey()
		if _, err := ulid.ParseStrict(keys[i]); err != nil {
			t.Fatalf("key %q is not a ULID: %v", keys[i], err)
		}
	}
	if !slices.IsSorted(keys) {
		t.Fatal("keys created in sequence must sort in creation order")
	}
	if len(slices.Compact(slices.Clone(keys))) != len(keys) {
		t.Fatal("keys created in sequence must be distinct")
	}
}

func TestIdentitiesAreTopicSafe(t *testing.T) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				id := string(NewIdentity())
				for _, r := range id {
					if (r < '0' || r > '9') && (r < 'A' || r > 'Z') {
						t.Errorf("identity %q contains %q", id, r)
					}
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("identity %s handed out twice", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 200 {
		t.Fatalf("expected 200 identities, got %d", len(seen))
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, ok := Timestamp(CreateULID())
	if !ok {
		t.Fatal("expected a fresh id to parse")
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Fatalf("timestamp %v is not current", ts)
	}
	if _, ok := Timestamp("not-a-ulid"); ok {
		t.Fatal("expected invalid id to be rejected")
	}
}
