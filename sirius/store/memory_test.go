package store

import (
	"context"
	"errors"
	"testing"

	"github.com/SiriusScan/host-diff/sirius"
)

func TestMemoryStoreSetValueNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	ok, err := m.SetValueNX(ctx, "k", "first")
	if err != nil || !ok {
		t.Fatalf("❌ first SetValueNX: ok=%v err=%v", ok, err)
	}
	ok, err = m.SetValueNX(ctx, "k", "second")
	if err != nil || ok {
		t.Fatalf("❌ second SetValueNX: ok=%v err=%v", ok, err)
	}
	v, _ := m.GetValue(ctx, "k")
	if v != "first" {
		t.Errorf("❌ expected first value to win, got %q", v)
	}
}

func TestMemoryStoreGetValueNotFound(t *testing.T) {
	_, err := NewMemoryStore().GetValue(context.Background(), "missing")
	if !errors.Is(err, sirius.ErrNotFound) {
		t.Fatalf("❌ expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreIncr(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for want := int64(1); want <= 3; want++ {
		got, err := m.Incr(ctx, "seq")
		if err != nil {
			t.Fatalf("❌ Incr: %v", err)
		}
		if got != want {
			t.Errorf("❌ Incr = %d, want %d", got, want)
		}
	}

	_ = m.SetValue(ctx, "text", "abc")
	if _, err := m.Incr(ctx, "text"); err == nil {
		t.Errorf("❌ expected error incrementing a non-integer value")
	}
}

func TestMemoryStoreListKeysEscaping(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.SetValue(ctx, "host:history:a*b|1", "x")
	_ = m.SetValue(ctx, "host:history:aXb|2", "y")

	keys, err := m.ListKeys(ctx, "host:history:"+EscapePattern("a*b")+"|*")
	if err != nil {
		t.Fatalf("❌ ListKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "host:history:a*b|1" {
		t.Errorf("❌ escaped pattern matched %v", keys)
	}
}

func TestMemoryStoreDeleteValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.SetValue(ctx, "k", "v")
	if err := m.DeleteValue(ctx, "k"); err != nil {
		t.Fatalf("❌ DeleteValue: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("❌ expected empty store, got %d keys", m.Len())
	}
}
