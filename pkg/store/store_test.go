package store

import "testing"

func TestWritesBatchUntilFlush(t *testing.T) {
	s := New()
	var batches [][]Change
	s.Subscribe(func(batch []Change) {
		batches = append(batches, batch)
	})

	s.SetInt("SizeX", 640)
	s.SetInt("SizeY", 480)
	s.SetBool("Armed", true)

	if len(batches) != 0 {
		t.Fatalf("expected no notifications before flush, got %d", len(batches))
	}

	s.Flush()
	if len(batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Fatalf("expected 3 changes in batch, got %d", len(batches[0]))
	}
}

func TestUnchangedWritesAreSuppressed(t *testing.T) {
	s := New()
	var batches [][]Change
	s.Subscribe(func(batch []Change) {
		batches = append(batches, batch)
	})

	s.SetInt("Gain", 10)
	s.Flush()
	s.SetInt("Gain", 10)
	s.Flush()

	if len(batches) != 1 {
		t.Fatalf("expected a single batch, got %d", len(batches))
	}
}

func TestEmptyFlushDeliversNothing(t *testing.T) {
	s := New()
	called := false
	s.Subscribe(func([]Change) { called = true })
	s.Flush()
	if called {
		t.Fatal("flush with no pending changes must not notify")
	}
}

func TestTypedReadback(t *testing.T) {
	s := New()
	s.SetInt("NumImages", 5)
	s.SetFloat("AcquireTime", 0.02)
	s.SetString("Model", "HS-2000M")
	s.SetBool("Acquired", false)

	if v, ok := s.Int("NumImages"); !ok || v != 5 {
		t.Errorf("Int = %d, %v", v, ok)
	}
	if v, ok := s.Float("AcquireTime"); !ok || v != 0.02 {
		t.Errorf("Float = %f, %v", v, ok)
	}
	if v, ok := s.String("Model"); !ok || v != "HS-2000M" {
		t.Errorf("String = %q, %v", v, ok)
	}
	if _, ok := s.Int("Missing"); ok {
		t.Error("missing parameter must not read back")
	}
}
