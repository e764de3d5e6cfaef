package storage

import (
	"errors"
	"testing"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	key := []byte("handshake/record/1")
	value := []byte{0x01, 0x02, 0x03}

	if _, err := db.Get(key); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing key: want ErrKeyNotFound, got %v", err)
	}
	has, err := db.Has(key)
	if err != nil || has {
		t.Fatalf("missing key: has=%v err=%v", has, err)
	}

	if err := db.Put(key, value); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(value) {
		t.Fatalf("value: want %x, got %x", value, got)
	}

	// The store must hold its own copy; callers mutating the returned or
	// supplied slices must not corrupt it.
	got[0] = 0xFF
	value[1] = 0xFF
	fresh, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh[0] != 0x01 || fresh[1] != 0x02 {
		t.Fatalf("stored value aliased caller memory: %x", fresh)
	}

	if err := db.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get(key); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("deleted key: want ErrKeyNotFound, got %v", err)
	}
}
