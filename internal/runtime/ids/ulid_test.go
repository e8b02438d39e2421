package ids

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestCreateULIDSequentialOrdering(t *testing.T) {
	const total = 100
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		ids[i] = CreateULID()
	}

	for i := 0; i < total; i++ {
		if _, err := ulid.Parse(ids[i]); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
	}
	for i := 1; i < total; i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected ULIDs to be strictly increasing, %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestNewIdentifierConcurrentUniqueness(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uuid.UUID]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := NewIdentifier()
				mu.Lock()
				if _, ok := seen[id]; ok {
					t.Errorf("duplicate identifier generated: %s", id)
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique identifiers, got %d", goroutines*perGoroutine, len(seen))
	}
}

func TestParseIdentifier(t *testing.T) {
	id := NewIdentifier()
	parsed, err := ParseIdentifier(id.String())
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed != id {
		t.Fatalf("expected %s, got %s", id, parsed)
	}

	empty, err := ParseIdentifier("")
	if err != nil || empty != uuid.Nil {
		t.Fatalf("expected nil identifier for empty input, got %s (%v)", empty, err)
	}

	if _, err := ParseIdentifier("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed identifier")
	}
}
