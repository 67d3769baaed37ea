package siltdb

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// BloomFilter is a double-hashed bit array membership filter sized per
// spec §4.7: m = -n*ln(p)/(ln2)^2 bits, k = (m/n)*ln2 hashes. False
// positives are permitted; false negatives are forbidden.
type BloomFilter struct {
	bits   []uint64
	nbits  uint64
	nhash  uint64
	nitems uint64
}

// NewBloomFilter sizes a filter for expectedItems entries at the given
// target false-positive rate (0, 1).
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	n := float64(expectedItems)
	m := math.Ceil(-n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	if m < 64 {
		m = 64
	}
	k := math.Round((m / n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	nbits := uint64(m)
	return &BloomFilter{
		bits:  make([]uint64, (nbits+63)/64),
		nbits: nbits,
		nhash: uint64(k),
	}
}

func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := bloomHash1(key), bloomHash2(key)
	for i := uint64(0); i < bf.nhash; i++ {
		bit := (h1 + i*h2) % bf.nbits
		bf.bits[bit/64] |= 1 << (bit % 64)
	}
	bf.nitems++
}

// Contains returns false only when the key is definitely not present.
func (bf *BloomFilter) Contains(key []byte) bool {
	h1, h2 := bloomHash1(key), bloomHash2(key)
	for i := uint64(0); i < bf.nhash; i++ {
		bit := (h1 + i*h2) % bf.nbits
		if bf.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Marshal serializes the filter for storage in an SST trailer.
func (bf *BloomFilter) Marshal() []byte {
	buf := make([]byte, 24+len(bf.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], bf.nbits)
	binary.LittleEndian.PutUint64(buf[8:16], bf.nhash)
	binary.LittleEndian.PutUint64(buf[16:24], bf.nitems)
	for i, word := range bf.bits {
		binary.LittleEndian.PutUint64(buf[24+i*8:24+(i+1)*8], word)
	}
	return buf
}

// UnmarshalBloomFilter reconstructs a filter previously written by Marshal.
func UnmarshalBloomFilter(data []byte) *BloomFilter {
	if len(data) < 24 {
		return &BloomFilter{nbits: 64, nhash: 2, bits: make([]uint64, 1)}
	}
	bf := &BloomFilter{
		nbits:  binary.LittleEndian.Uint64(data[0:8]),
		nhash:  binary.LittleEndian.Uint64(data[8:16]),
		nitems: binary.LittleEndian.Uint64(data[16:24]),
	}
	words := (bf.nbits + 63) / 64
	bf.bits = make([]uint64, words)
	rest := data[24:]
	for i := uint64(0); i < words && (i+1)*8 <= uint64(len(rest)); i++ {
		bf.bits[i] = binary.LittleEndian.Uint64(rest[i*8 : (i+1)*8])
	}
	return bf
}

// fastHash is a xxHash-style avalanche mix, grounded on the teacher's
// filter.go fastHash.
func fastHash(data []byte) uint64 {
	const (
		prime1 = 11400714785074694791
		prime2 = 14029467366897019727
		prime3 = 1609587929392839161
		prime4 = 9650029242287828579
		prime5 = 2870177450012600261
	)

	var h uint64 = prime5 + uint64(len(data))

	i := 0
	for i+8 <= len(data) {
		k1 := *(*uint64)(unsafe.Pointer(&data[i])) * prime2
		k1 = ((k1 << 31) | (k1 >> 33)) * prime1
		h ^= k1
		h = ((h<<27)|(h>>37))*prime1 + prime4
		i += 8
	}
	for i < len(data) {
		h ^= uint64(data[i]) * prime5
		h = ((h << 11) | (h >> 53)) * prime1
		i++
	}

	h ^= h >> 33
	h *= prime2
	h ^= h >> 29
	h *= prime3
	h ^= h >> 32

	return h
}

func bloomHash1(data []byte) uint64 { return fastHash(data) }
func bloomHash2(data []byte) uint64 { return fastHash(data)>>16 | 1 }

// fastMemCmp is an unsafe word-at-a-time byte comparison, grounded on the
// teacher's filter.go fastMemCmp.
//
//go:noinline
func fastMemCmp(a, b []byte) int {
	if len(a) == 0 || len(b) == 0 {
		switch {
		case len(a) < len(b):
			return -1
		case len(a) > len(b):
			return 1
		default:
			return 0
		}
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	i := 0
	for i+8 <= minLen {
		av := *(*uint64)(unsafe.Pointer(&a[i]))
		bv := *(*uint64)(unsafe.Pointer(&b[i]))
		if av != bv {
			for j := 0; j < 8; j++ {
				if a[i+j] != b[i+j] {
					if a[i+j] < b[i+j] {
						return -1
					}
					return 1
				}
			}
		}
		i += 8
	}
	for i < minLen {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
		i++
	}
	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}
