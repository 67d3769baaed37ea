package siltdb

import "testing"

func TestMemTablePutGet(t *testing.T) {
	mt := NewMemTable()
	mt.Insert(&Entry{Key: []byte("k1"), Value: []byte("v1"), Seq: 1})
	mt.Insert(&Entry{Key: []byte("k2"), Value: []byte("v2"), Seq: 2})

	e := mt.Get([]byte("k1"))
	if e == nil || string(e.Value) != "v1" {
		t.Fatalf("expected v1, got %v", e)
	}
	if mt.Get([]byte("missing")) != nil {
		t.Fatal("expected nil for missing key")
	}
}

func TestMemTableOverwriteKeepsNewest(t *testing.T) {
	mt := NewMemTable()
	mt.Insert(&Entry{Key: []byte("k"), Value: []byte("old"), Seq: 1})
	mt.Insert(&Entry{Key: []byte("k"), Value: []byte("new"), Seq: 2})

	e := mt.Get([]byte("k"))
	if string(e.Value) != "new" {
		t.Fatalf("expected new, got %s", e.Value)
	}
	if mt.Len() != 1 {
		t.Fatalf("expected 1 distinct key, got %d", mt.Len())
	}
}

func TestMemTableIterSortedIsAscending(t *testing.T) {
	mt := NewMemTable()
	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for i, k := range keys {
		mt.Insert(&Entry{Key: []byte(k), Value: []byte("v"), Seq: uint64(i + 1)})
	}

	sorted := mt.IterSorted()
	if len(sorted) != len(keys) {
		t.Fatalf("expected %d entries, got %d", len(keys), len(sorted))
	}
	for i := 1; i < len(sorted); i++ {
		if compareKeys(sorted[i-1].Key, sorted[i].Key) >= 0 {
			t.Fatalf("entries not in ascending order at index %d", i)
		}
	}
}

func TestMemTableSizeBytesTracksReplacement(t *testing.T) {
	mt := NewMemTable()
	mt.Insert(&Entry{Key: []byte("k"), Value: []byte("12345"), Seq: 1})
	sizeAfterFirst := mt.SizeBytes()

	mt.Insert(&Entry{Key: []byte("k"), Value: []byte("1"), Seq: 2})
	sizeAfterSecond := mt.SizeBytes()

	if sizeAfterSecond >= sizeAfterFirst {
		t.Fatalf("expected size to shrink after replacing with a smaller value: %d -> %d", sizeAfterFirst, sizeAfterSecond)
	}
}
