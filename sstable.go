package siltdb

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"syscall"
)

const (
	sstMagic       = 0x53494C54 // "SILT"
	sstVersion     = 1
	sstTrailerSize = 8 + 8 + 8 + 8 + 4 + 4 // idxOff idxSize bloomOff bloomSize checksum trailerMagic
	sstTrailerMagic = 0x54524c52

	// DefaultIndexInterval samples one sparse-index entry per this many
	// records (spec §4.6: "one entry per K records or per B bytes").
	DefaultIndexInterval = 16
)

// sparseIndexEntry samples a record's key and file offset.
type sparseIndexEntry struct {
	Key    []byte
	Offset uint64
}

// SSTable is an immutable on-disk sorted file (spec §3, §4.6). Grounded
// on the teacher's sstable.go: temp-file + fsync + atomic rename on
// write, mmap'd reads. AEAD encryption is dropped (non-goal); a sparse
// (not dense) index and optional flate compression are added.
type SSTable struct {
	path        string
	file        *os.File
	mmap        []byte
	dataStart   uint64
	dataEnd     uint64
	sparseIndex []sparseIndexEntry
	bloom       *BloomFilter
	minKey      []byte
	maxKey      []byte
	seqMin      uint64
	seqMax      uint64
	entryCount  int
	generation  int
	compressed  bool

	// refs implements the epoch-based live-set of design note §9: readers
	// hold a token (IncRef/DecRef) while using the mmap; after Close the
	// mapping and file handle are released only once refs reaches zero.
	// Unlink does not wait for refs: it removes the file at once, and
	// readers still holding a token keep reading through their mapping.
	refs    int32
	closing int32
}

// BuildSSTable writes entries (already sorted by key, one per key) as a
// new immutable file at path, using a temp-file + fsync + rename
// sequence for crash safety.
func BuildSSTable(path string, entries []*Entry, generation int, falsePositiveRate float64, compress bool) (*SSTable, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("siltdb: refusing to build an empty sstable")
	}
	sort.Slice(entries, func(i, j int) bool { return compareKeys(entries[i].Key, entries[j].Key) < 0 })

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	bf := NewBloomFilter(len(entries), falsePositiveRate)
	for _, e := range entries {
		bf.Add(e.Key)
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(tmp, crc)

	seqMin, seqMax := entries[0].Seq, entries[0].Seq
	for _, e := range entries {
		if e.Seq < seqMin {
			seqMin = e.Seq
		}
		if e.Seq > seqMax {
			seqMax = e.Seq
		}
	}

	var compressFlag uint8
	if compress {
		compressFlag = 1
	}

	if err := writeSSTHeader(mw, uint32(len(entries)), compressFlag, seqMin, seqMax, entries[0].Key, entries[len(entries)-1].Key); err != nil {
		tmp.Close()
		return nil, err
	}

	curOff, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	offset := uint64(curOff)

	var sparseIdx []sparseIndexEntry
	for i, e := range entries {
		if i%DefaultIndexInterval == 0 {
			sparseIdx = append(sparseIdx, sparseIndexEntry{Key: append([]byte(nil), e.Key...), Offset: offset})
		}
		n, err := writeSSTRecord(mw, e, compress)
		if err != nil {
			tmp.Close()
			return nil, err
		}
		offset += uint64(n)
	}

	bloomBytes := bf.Marshal()
	bloomOffset := offset
	if _, err := mw.Write(bloomBytes); err != nil {
		tmp.Close()
		return nil, err
	}
	offset += uint64(len(bloomBytes))

	indexOffset := offset
	idxBuf := new(bytes.Buffer)
	binary.Write(idxBuf, binary.LittleEndian, uint32(len(sparseIdx)))
	for _, ie := range sparseIdx {
		binary.Write(idxBuf, binary.LittleEndian, uint32(len(ie.Key)))
		idxBuf.Write(ie.Key)
		binary.Write(idxBuf, binary.LittleEndian, ie.Offset)
	}
	if _, err := mw.Write(idxBuf.Bytes()); err != nil {
		tmp.Close()
		return nil, err
	}
	indexSize := uint64(idxBuf.Len())

	trailer := make([]byte, sstTrailerSize)
	binary.LittleEndian.PutUint64(trailer[0:8], indexOffset)
	binary.LittleEndian.PutUint64(trailer[8:16], indexSize)
	binary.LittleEndian.PutUint64(trailer[16:24], bloomOffset)
	binary.LittleEndian.PutUint64(trailer[24:32], uint64(len(bloomBytes)))
	binary.LittleEndian.PutUint32(trailer[32:36], crc.Sum32())
	binary.LittleEndian.PutUint32(trailer[36:40], sstTrailerMagic)
	if _, err := tmp.Write(trailer); err != nil {
		tmp.Close()
		return nil, err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, err
	}

	sst, err := OpenSSTable(path, generation)
	if err != nil {
		return nil, err
	}
	return sst, nil
}

func writeSSTHeader(w io.Writer, entryCount uint32, compressFlag uint8, seqMin, seqMax uint64, minKey, maxKey []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(sstMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sstVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entryCount); err != nil {
		return err
	}
	if _, err := w.Write([]byte{compressFlag}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, seqMin); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, seqMax); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(minKey))); err != nil {
		return err
	}
	if _, err := w.Write(minKey); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(maxKey))); err != nil {
		return err
	}
	if _, err := w.Write(maxKey); err != nil {
		return err
	}
	return nil
}

// writeSSTRecord writes one record and returns its encoded length.
// record = key_len(4) key variant(1) [value_len(4) value] seq(8) ts(8) exp(8) crc(4)
func writeSSTRecord(w io.Writer, e *Entry, compress bool) (int, error) {
	variant := uint8(Live)
	if e.Deleted {
		variant = uint8(Tombstone)
	}

	value := e.Value
	if compress && variant == uint8(Live) && len(value) > 0 {
		value = flateCompress(value)
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(len(e.Key)))
	buf.Write(e.Key)
	buf.WriteByte(variant)
	if variant == uint8(Live) {
		binary.Write(buf, binary.LittleEndian, uint32(len(value)))
		buf.Write(value)
	}
	binary.Write(buf, binary.LittleEndian, e.Seq)
	binary.Write(buf, binary.LittleEndian, e.Timestamp)
	binary.Write(buf, binary.LittleEndian, e.ExpiresAt)

	crc := crc32.ChecksumIEEE(buf.Bytes())
	binary.Write(buf, binary.LittleEndian, crc)

	n, err := w.Write(buf.Bytes())
	return n, err
}

func flateCompress(data []byte) []byte {
	var buf bytes.Buffer
	fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	fw.Write(data)
	fw.Close()
	return buf.Bytes()
}

func flateDecompress(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}

// OpenSSTable memory-maps an existing file and reconstructs its trailer,
// index, and bloom filter for reads.
func OpenSSTable(path string, generation int) (*SSTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	size := stat.Size()
	if size < sstTrailerSize {
		file.Close()
		return nil, &CorruptionError{Path: path, Reason: "file too small for trailer"}
	}

	mmap, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}

	trailer := mmap[len(mmap)-sstTrailerSize:]
	indexOffset := binary.LittleEndian.Uint64(trailer[0:8])
	indexSize := binary.LittleEndian.Uint64(trailer[8:16])
	bloomOffset := binary.LittleEndian.Uint64(trailer[16:24])
	bloomSize := binary.LittleEndian.Uint64(trailer[24:32])
	fileChecksum := binary.LittleEndian.Uint32(trailer[32:36])
	trailerMagic := binary.LittleEndian.Uint32(trailer[36:40])

	if trailerMagic != sstTrailerMagic {
		syscall.Munmap(mmap)
		file.Close()
		return nil, &CorruptionError{Path: path, Reason: "bad trailer magic"}
	}

	body := mmap[:len(mmap)-sstTrailerSize]
	if crc32.ChecksumIEEE(body) != fileChecksum {
		syscall.Munmap(mmap)
		file.Close()
		return nil, &CorruptionError{Path: path, Reason: "file checksum mismatch"}
	}

	r := bytes.NewReader(mmap)
	var magic, version, entryCount uint32
	binary.Read(r, binary.LittleEndian, &magic)
	binary.Read(r, binary.LittleEndian, &version)
	binary.Read(r, binary.LittleEndian, &entryCount)
	if magic != sstMagic || version != sstVersion {
		syscall.Munmap(mmap)
		file.Close()
		return nil, &CorruptionError{Path: path, Reason: "bad header magic/version"}
	}
	var compressFlag [1]byte
	r.Read(compressFlag[:])
	var seqMin, seqMax uint64
	binary.Read(r, binary.LittleEndian, &seqMin)
	binary.Read(r, binary.LittleEndian, &seqMax)
	var minKeyLen uint32
	binary.Read(r, binary.LittleEndian, &minKeyLen)
	minKey := make([]byte, minKeyLen)
	io.ReadFull(r, minKey)
	var maxKeyLen uint32
	binary.Read(r, binary.LittleEndian, &maxKeyLen)
	maxKey := make([]byte, maxKeyLen)
	io.ReadFull(r, maxKey)

	// The reader sits immediately after the header here; that offset is
	// where the first data record begins (writeSSTHeader/BuildSSTable
	// write records directly after the header, before the bloom filter
	// and sparse index regions).
	dataStart := uint64(len(mmap) - r.Len())

	if uint64(len(mmap)) < bloomOffset+bloomSize {
		syscall.Munmap(mmap)
		file.Close()
		return nil, &CorruptionError{Path: path, Reason: "bloom region out of range"}
	}
	bloom := UnmarshalBloomFilter(mmap[bloomOffset : bloomOffset+bloomSize])

	if uint64(len(mmap)) < indexOffset+indexSize {
		syscall.Munmap(mmap)
		file.Close()
		return nil, &CorruptionError{Path: path, Reason: "index region out of range"}
	}
	idxReader := bytes.NewReader(mmap[indexOffset : indexOffset+indexSize])
	var idxCount uint32
	binary.Read(idxReader, binary.LittleEndian, &idxCount)
	sparseIdx := make([]sparseIndexEntry, 0, idxCount)
	for i := uint32(0); i < idxCount; i++ {
		var keyLen uint32
		binary.Read(idxReader, binary.LittleEndian, &keyLen)
		key := make([]byte, keyLen)
		io.ReadFull(idxReader, key)
		var off uint64
		binary.Read(idxReader, binary.LittleEndian, &off)
		sparseIdx = append(sparseIdx, sparseIndexEntry{Key: key, Offset: off})
	}

	// Order check (invariant I4): strict ascending key order, validated
	// across the sparse sample. A full scan would be more thorough but
	// defeats the point of a sparse index at open time; the write path
	// guarantees full ordering, so sampling here is sufficient defense
	// against a truncated/garbled file.
	for i := 1; i < len(sparseIdx); i++ {
		if compareKeys(sparseIdx[i-1].Key, sparseIdx[i].Key) >= 0 {
			syscall.Munmap(mmap)
			file.Close()
			return nil, &CorruptionError{Path: path, Reason: "sparse index out of order"}
		}
	}

	return &SSTable{
		path:        path,
		file:        file,
		mmap:        mmap,
		dataStart:   dataStart,
		dataEnd:     bloomOffset,
		sparseIndex: sparseIdx,
		bloom:       bloom,
		minKey:      minKey,
		maxKey:      maxKey,
		seqMin:      seqMin,
		seqMax:      seqMax,
		entryCount:  int(entryCount),
		generation:  generation,
		compressed:  compressFlag[0] == 1,
	}, nil
}

// IncRef/DecRef implement the epoch-based live-set: a reader holds a
// token while scanning the mmap; once Close has been called, the last
// DecRef unmaps and closes the file (design note §9). The refcount does
// not delay Unlink.
func (sst *SSTable) IncRef() { atomic.AddInt32(&sst.refs, 1) }
func (sst *SSTable) DecRef() {
	if atomic.AddInt32(&sst.refs, -1) == 0 && atomic.LoadInt32(&sst.closing) == 1 {
		sst.unmapAndClose()
	}
}

// Get implements spec §4.6's four-step lookup.
func (sst *SSTable) Get(key []byte) (*Entry, error) {
	if compareKeys(key, sst.minKey) < 0 || compareKeys(key, sst.maxKey) > 0 {
		return nil, nil
	}
	if !sst.bloom.Contains(key) {
		return nil, nil
	}

	idx := sort.Search(len(sst.sparseIndex), func(i int) bool {
		return compareKeys(sst.sparseIndex[i].Key, key) > 0
	}) - 1
	offset := sst.dataStart
	if idx >= 0 {
		offset = sst.sparseIndex[idx].Offset
	} else if len(sst.sparseIndex) > 0 {
		offset = sst.sparseIndex[0].Offset
	}

	for offset < sst.dataEnd {
		entry, recLen, err := sst.readRecordAt(offset)
		if err != nil {
			return nil, err
		}
		cmp := compareKeys(entry.Key, key)
		if cmp == 0 {
			return entry, nil
		}
		if cmp > 0 {
			return nil, nil // overshoot
		}
		offset += uint64(recLen)
	}
	return nil, nil
}

// readRecordAt decodes one record at offset and returns it plus its
// encoded length, verifying its per-record CRC.
func (sst *SSTable) readRecordAt(offset uint64) (*Entry, int, error) {
	data := sst.mmap[offset:sst.dataEnd]
	r := bytes.NewReader(data)

	var keyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return nil, 0, &CorruptionError{Path: sst.path, Reason: "truncated record"}
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, 0, &CorruptionError{Path: sst.path, Reason: "truncated key"}
	}
	variantByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, &CorruptionError{Path: sst.path, Reason: "truncated variant"}
	}

	var value []byte
	if variantByte == uint8(Live) {
		var valLen uint32
		if err := binary.Read(r, binary.LittleEndian, &valLen); err != nil {
			return nil, 0, &CorruptionError{Path: sst.path, Reason: "truncated value length"}
		}
		value = make([]byte, valLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, 0, &CorruptionError{Path: sst.path, Reason: "truncated value"}
		}
		if sst.compressed && len(value) > 0 {
			value, err = flateDecompress(value)
			if err != nil {
				return nil, 0, &CorruptionError{Path: sst.path, Reason: "decompression failed"}
			}
		}
	}

	var seq, ts, exp uint64
	binary.Read(r, binary.LittleEndian, &seq)
	binary.Read(r, binary.LittleEndian, &ts)
	binary.Read(r, binary.LittleEndian, &exp)

	consumed := len(data) - r.Len()
	recordBody := data[:consumed]

	var crc uint32
	if err := binary.Read(r, binary.LittleEndian, &crc); err != nil {
		return nil, 0, &CorruptionError{Path: sst.path, Reason: "truncated crc"}
	}
	if crc32.ChecksumIEEE(recordBody) != crc {
		return nil, 0, &CorruptionError{Path: sst.path, Reason: "record checksum mismatch"}
	}

	entry := &Entry{
		Key:       key,
		Value:     value,
		Seq:       seq,
		Timestamp: ts,
		ExpiresAt: exp,
		Deleted:   variantByte == uint8(Tombstone),
	}
	return entry, consumed + 4, nil
}

// Close marks the table closing and unmaps and closes it once no reader
// holds a reference. It does not remove the file; see Unlink.
func (sst *SSTable) Close() error {
	atomic.StoreInt32(&sst.closing, 1)
	if atomic.LoadInt32(&sst.refs) == 0 {
		return sst.unmapAndClose()
	}
	return nil
}

func (sst *SSTable) unmapAndClose() error {
	if sst.mmap != nil {
		syscall.Munmap(sst.mmap)
		sst.mmap = nil
	}
	return sst.file.Close()
}

// Unlink removes the underlying file immediately, whether or not readers
// still hold references. Must be called only after Close.
func (sst *SSTable) Unlink() error {
	return os.Remove(sst.path)
}

// Iterator walks every record, tombstones included, in ascending key order.
func (sst *SSTable) Iterator() *sstIterator {
	sst.IncRef()
	return &sstIterator{sst: sst, offset: sst.dataStart}
}

type sstIterator struct {
	sst    *SSTable
	offset uint64
	cur    *Entry
}

func (it *sstIterator) Next() bool {
	if it.offset >= it.sst.dataEnd {
		return false
	}
	entry, recLen, err := it.sst.readRecordAt(it.offset)
	if err != nil {
		return false
	}
	it.offset += uint64(recLen)
	it.cur = entry
	return true
}

func (it *sstIterator) Entry() *Entry { return it.cur }
func (it *sstIterator) Close()        { it.sst.DecRef() }
