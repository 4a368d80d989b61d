// Package index implements the concurrent B+tree of spec.md §4.4: latch
// crabbing during descent, point lookup, ordered iteration, insert-with-
// split, and delete-with-coalesce-or-redistribute.
//
// Grounded in the teacher's index package (jobala-petro/index) for the
// overall page/tree split, generalized from its fixed [255]/[256]-element
// arrays and duplicated PAGE_TYPE declarations (which didn't actually form a
// coherent tree) to slice-backed pages sized by an explicit max-size and a
// single header struct shared by both page kinds, and extended with the
// latch-crabbing descent original_source/src/index/b_plus_tree.cpp performs
// but the teacher's version never implemented.
package index

import (
	"cmp"
	"fmt"

	"github.com/coldbrew-db/engine/disk"
	"github.com/vmihailenco/msgpack"
)

// headerPageID is the fixed page holding the tree's root pointer
// (spec.md §4.4.1 "header page tracks the root page id").
const headerPageID = disk.HEADER_PAGE_ID

type headerPage struct {
	RootPageID int32
}

// leafMarker/internalMarker occupy byte 0 of every non-header tree page.
// The teacher's pages carry a pageType field through the same msgpack codec
// used for the rest of the struct (page.go/internal_page.go); that only
// works if the reader already knows which concrete type to decode into.
// Descent needs to learn a page's kind *before* choosing a type to decode,
// so the marker is written as a single raw byte ahead of the msgpack
// payload — the same reasoning wal.Record uses for hand-rolling its header
// rather than trusting reflection: a dispatch decision needs a fixed,
// codec-independent offset.
const (
	internalMarker byte = 0
	leafMarker     byte = 1
)

type pageHeader struct {
	PageID   int32
	ParentID int32
}

type leafPage[K cmp.Ordered, V any] struct {
	pageHeader

	NextID  int32
	Size    int32
	MaxSize int32
	Keys    []K
	Values  []V
}

func newLeafPage[K cmp.Ordered, V any](id, parent int32, maxSize int) leafPage[K, V] {
	return leafPage[K, V]{
		pageHeader: pageHeader{PageID: id, ParentID: parent},
		NextID:     disk.INVALID_PAGE_ID,
		MaxSize:    int32(maxSize),
	}
}

// minSize is the fewest entries a non-root leaf may hold before it must
// coalesce or borrow (spec.md §4.4.3): ceil(MaxSize/2).
func (p *leafPage[K, V]) minSize() int { return (int(p.MaxSize) + 1) / 2 }

// find returns the index of key if present, and the index it would be
// inserted at otherwise.
func (p *leafPage[K, V]) find(key K) (idx int, found bool) {
	lo, hi := 0, len(p.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(p.Keys) && p.Keys[lo] == key
}

type internalPage[K cmp.Ordered] struct {
	pageHeader

	Size     int32 // number of children; len(Keys) == Size-1
	MaxSize  int32
	Keys     []K
	Children []int32
}

func newInternalPage[K cmp.Ordered](id, parent int32, maxSize int) internalPage[K] {
	return internalPage[K]{
		pageHeader: pageHeader{PageID: id, ParentID: parent},
		MaxSize:    int32(maxSize),
	}
}

func (p *internalPage[K]) minSize() int { return (int(p.MaxSize) + 1) / 2 }

// childFor returns the index of the child to descend into for key: the
// rightmost separator key not greater than key, or 0 if key precedes every
// separator.
func (p *internalPage[K]) childFor(key K) int {
	lo, hi := 0, len(p.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Keys[mid] <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// indexOfChild returns the position of pageID among Children.
func (p *internalPage[K]) indexOfChild(pageID int32) int {
	for i, c := range p.Children {
		if c == pageID {
			return i
		}
	}
	return -1
}

func isLeafData(data []byte) bool {
	return len(data) > 0 && data[0] == leafMarker
}

func encodeLeaf[K cmp.Ordered, V any](buf []byte, p leafPage[K, V]) error {
	return encodePage(buf, leafMarker, p)
}

func encodeInternal[K cmp.Ordered](buf []byte, p internalPage[K]) error {
	return encodePage(buf, internalMarker, p)
}

func decodeLeaf[K cmp.Ordered, V any](data []byte) (leafPage[K, V], error) {
	var p leafPage[K, V]
	err := msgpack.Unmarshal(data[1:], &p)
	return p, err
}

func decodeInternal[K cmp.Ordered](data []byte) (internalPage[K], error) {
	var p internalPage[K]
	err := msgpack.Unmarshal(data[1:], &p)
	return p, err
}

func encodePage(buf []byte, marker byte, payload any) error {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return err
	}
	if len(data) > len(buf)-1 {
		return fmt.Errorf("index: page payload too large (%d bytes)", len(data))
	}
	clear(buf)
	buf[0] = marker
	copy(buf[1:], data)
	return nil
}
