package siltdb

import (
	"fmt"
	"path/filepath"
	"testing"
)

func buildTestEntries(n int) []*Entry {
	entries := make([]*Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = &Entry{
			Key:   []byte(fmt.Sprintf("key-%04d", i)),
			Value: []byte(fmt.Sprintf("value-%04d", i)),
			Seq:   uint64(i + 1),
		}
	}
	return entries
}

func TestSSTableBuildAndGet(t *testing.T) {
	dir := t.TempDir()
	entries := buildTestEntries(200)

	sst, err := BuildSSTable(filepath.Join(dir, "gen0-000001.sst"), entries, 0, 0.01, false)
	if err != nil {
		t.Fatal(err)
	}
	defer sst.Close()

	for _, want := range entries {
		got, err := sst.Get(want.Key)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil {
			t.Fatalf("missing key %s", want.Key)
		}
		if string(got.Value) != string(want.Value) {
			t.Fatalf("value mismatch for %s: got %s want %s", want.Key, got.Value, want.Value)
		}
	}

	absent, err := sst.Get([]byte("nonexistent"))
	if err != nil {
		t.Fatal(err)
	}
	if absent != nil {
		t.Fatal("expected nil for absent key")
	}
}

func TestSSTableReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	entries := buildTestEntries(50)
	path := filepath.Join(dir, "gen0-000001.sst")

	sst, err := BuildSSTable(path, entries, 0, 0.01, false)
	if err != nil {
		t.Fatal(err)
	}
	sst.Close()

	reopened, err := OpenSSTable(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Get(entries[10].Key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.Value) != string(entries[10].Value) {
		t.Fatalf("expected %s, got %v", entries[10].Value, got)
	}
}

func TestSSTableCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := buildTestEntries(30)
	path := filepath.Join(dir, "gen0-000001.sst")

	sst, err := BuildSSTable(path, entries, 0, 0.01, true)
	if err != nil {
		t.Fatal(err)
	}
	defer sst.Close()

	got, err := sst.Get(entries[5].Key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.Value) != string(entries[5].Value) {
		t.Fatalf("compressed round trip failed: got %v", got)
	}
}

func TestSSTableIteratorWalksAscending(t *testing.T) {
	dir := t.TempDir()
	entries := buildTestEntries(20)
	path := filepath.Join(dir, "gen0-000001.sst")

	sst, err := BuildSSTable(path, entries, 0, 0.01, false)
	if err != nil {
		t.Fatal(err)
	}
	defer sst.Close()

	it := sst.Iterator()
	defer it.Close()

	count := 0
	var prev []byte
	for it.Next() {
		e := it.Entry()
		if prev != nil && compareKeys(prev, e.Key) >= 0 {
			t.Fatalf("iterator out of order: %s then %s", prev, e.Key)
		}
		prev = e.Key
		count++
	}
	if count != len(entries) {
		t.Fatalf("expected %d entries, iterated %d", len(entries), count)
	}
}
