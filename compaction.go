package siltdb

import (
	"container/heap"
	"fmt"
	"path/filepath"
	"sort"
)

// CompactionThreshold is the default number of SSTs a generation may
// accumulate before it is merged into the next (spec §4.10, §9 open
// question c: size-tiered per-generation compaction chosen as the
// baseline strategy).
const CompactionThreshold = 4

// mergeSource is one input stream to a k-way merge: either a live
// memtable snapshot or an on-disk SSTable iterator.
type mergeSource interface {
	Next() bool
	Entry() *Entry
	Close()
}

type sliceSource struct {
	entries []*Entry
	i       int
}

func newSliceSource(entries []*Entry) *sliceSource { return &sliceSource{entries: entries, i: -1} }
func (s *sliceSource) Next() bool {
	s.i++
	return s.i < len(s.entries)
}
func (s *sliceSource) Entry() *Entry { return s.entries[s.i] }
func (s *sliceSource) Close()        {}

// heapItem pairs a source with its current entry for the merge heap.
// Newer sources (higher seq generation) must win ties, so heapItem
// carries a source priority: lower priority value sorts first among
// equal keys, and priority is assigned so newer generations have lower
// values.
type heapItem struct {
	src      mergeSource
	priority int
}

type mergeHeap []*heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := compareKeys(h[i].src.Entry().Key, h[j].src.Entry().Key)
	if c != 0 {
		return c < 0
	}
	return h[i].priority < h[j].priority
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// mergeIterator produces the sorted union of every source, resolving
// duplicate keys by keeping only the entry from the highest-priority
// (newest) source. Grounded on the teacher's NewMergedIterator in
// velocity.go's compactLevel, generalized to a heap-based k-way merge.
type mergeIterator struct {
	h *mergeHeap
}

func newMergeIterator(sources []mergeSource) *mergeIterator {
	h := &mergeHeap{}
	heap.Init(h)
	for i, s := range sources {
		if s.Next() {
			heap.Push(h, &heapItem{src: s, priority: i})
		} else {
			s.Close()
		}
	}
	return &mergeIterator{h: h}
}

// Next pops the next distinct key, preferring the newest source on
// duplicates, and advances (and drains) every source that shared it.
func (m *mergeIterator) Next() (*Entry, bool) {
	if m.h.Len() == 0 {
		return nil, false
	}
	top := heap.Pop(m.h).(*heapItem)
	winner := top.src.Entry()
	winnerPriority := top.priority
	advance(m.h, top)

	for m.h.Len() > 0 && compareKeys((*m.h)[0].src.Entry().Key, winner.Key) == 0 {
		dup := heap.Pop(m.h).(*heapItem)
		if dup.priority < winnerPriority {
			winner = dup.src.Entry()
			winnerPriority = dup.priority
		}
		advance(m.h, dup)
	}
	return winner, true
}

func advance(h *mergeHeap, it *heapItem) {
	if it.src.Next() {
		heap.Push(h, it)
	} else {
		it.src.Close()
	}
}

// CompactionPlan describes one generation merge: the input tables and
// the generation their output belongs to.
type CompactionPlan struct {
	Inputs       []*SSTable
	OutputGen    int
	IsLastGen    bool // true when OutputGen is the deepest live generation
}

// PlanCompaction inspects generations (index 0 = newest/shallowest) and
// returns a plan for the first one at or above threshold, or nil if
// none qualifies.
func PlanCompaction(generations map[int][]*SSTable, deepestGen, threshold int) *CompactionPlan {
	if threshold <= 0 {
		threshold = CompactionThreshold
	}
	gens := make([]int, 0, len(generations))
	for g := range generations {
		gens = append(gens, g)
	}
	sort.Ints(gens)

	for _, g := range gens {
		tables := generations[g]
		if len(tables) >= threshold {
			return &CompactionPlan{
				Inputs:    append([]*SSTable(nil), tables...),
				OutputGen: g + 1,
				IsLastGen: g+1 > deepestGen,
			}
		}
	}
	return nil
}

// RunCompaction merges plan.Inputs into one new SST at dir, eliding
// tombstones only when the output generation is the deepest live one
// (a tombstone in a shallower generation might still be shadowing a
// live value further down, per spec §4.10's elision rule).
func RunCompaction(plan *CompactionPlan, dir string, nextFileSeq int, falsePositiveRate float64, compress bool) (*SSTable, error) {
	// Newest input (largest SeqMax) must win ties; sort inputs so Iterator
	// index 0 is the newest, matching the priority convention in
	// newMergeIterator (lower index = higher priority).
	sort.Slice(plan.Inputs, func(i, j int) bool { return plan.Inputs[i].seqMax > plan.Inputs[j].seqMax })

	sources := make([]mergeSource, len(plan.Inputs))
	for i, sst := range plan.Inputs {
		sources[i] = sst.Iterator()
	}

	it := newMergeIterator(sources)
	var merged []*Entry
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if e.Deleted && plan.IsLastGen {
			continue // tombstone has no deeper generation to shadow; drop it
		}
		merged = append(merged, e)
	}

	if len(merged) == 0 {
		return nil, nil
	}

	outPath := filepath.Join(dir, fmt.Sprintf("%d-%06d.sst", plan.OutputGen, nextFileSeq))
	return BuildSSTable(outPath, merged, plan.OutputGen, falsePositiveRate, compress)
}
