package dedupe

import (
	"fmt"
	"testing"
)

func TestAddThenHas(t *testing.T) {
	c := New(4)

	c.Add("a")
	if !c.Has("a") {
		t.Error("expected Has(a) after Add(a)")
	}
	if c.Has("b") {
		t.Error("did not expect Has(b)")
	}
	if c.Len() != 1 {
		t.Errorf("expected len 1, got %d", c.Len())
	}
}

func TestFIFOEviction(t *testing.T) {
	const capacity = 5
	c := New(capacity)

	// Insert capacity+1 distinct ids in order.
	for i := 0; i <= capacity; i++ {
		c.Add(fmt.Sprintf("id-%d", i))
	}

	if c.Has("id-0") {
		t.Error("oldest id should have been evicted")
	}
	for i := 1; i <= capacity; i++ {
		id := fmt.Sprintf("id-%d", i)
		if !c.Has(id) {
			t.Errorf("expected %s to still be cached", id)
		}
	}
	if c.Len() != capacity {
		t.Errorf("expected len %d, got %d", capacity, c.Len())
	}
}

func TestLenNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	c := New(capacity)

	for i := 0; i < 50; i++ {
		c.Add(fmt.Sprintf("id-%d", i))
		if c.Len() > capacity {
			t.Fatalf("len %d exceeds capacity %d", c.Len(), capacity)
		}
	}
}

func TestDuplicateAddDoesNotRefresh(t *testing.T) {
	c := New(2)

	c.Add("a")
	c.Add("b")
	c.Add("a") // no-op: a keeps its original position
	c.Add("c") // evicts a, the oldest

	if c.Has("a") {
		t.Error("a should have been evicted despite the duplicate Add")
	}
	if !c.Has("b") || !c.Has("c") {
		t.Error("b and c should be cached")
	}
}

func TestDefaultCapacity(t *testing.T) {
	c := New(0)
	for i := 0; i < DefaultCapacity+10; i++ {
		c.Add(fmt.Sprintf("id-%d", i))
	}
	if c.Len() != DefaultCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultCapacity, c.Len())
	}
}
