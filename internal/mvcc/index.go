// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mvcc

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

// RevisionCoord identifies a single committed mutation: main is the commit
// revision, sub orders mutations within that commit. It is the same shape
// as Revision and shares its ordering.
type RevisionCoord = Revision

// IndexEntry is one generation record in a key's append-only history.
// A tombstone entry has Version == 0 and CreateRevision == 0.
type IndexEntry struct {
	CreateRevision int64
	Coord          RevisionCoord
	Version        int64
}

// IsTombstone reports whether e records a deletion rather than a live value.
func (e IndexEntry) IsTombstone() bool {
	return e.Version == 0 && e.CreateRevision == 0
}

// keyHistory is the per-key append-only generation list kept in the btree.
type keyHistory struct {
	key     []byte
	entries []IndexEntry
}

func (h *keyHistory) Less(than btree.Item) bool {
	return bytes.Compare(h.key, than.(*keyHistory).key) < 0
}

// latestAt returns the entry with the greatest Coord.Main <= atRevision
// (atRevision == 0 means "latest"), or ok=false if there is none or the
// matching entry is a tombstone.
func (h *keyHistory) latestAt(atRevision int64) (entry IndexEntry, ok bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if atRevision != 0 && e.Coord.Main > atRevision {
			continue
		}
		if e.IsTombstone() {
			return IndexEntry{}, false
		}
		return e, true
	}
	return IndexEntry{}, false
}

// isAllKeysSentinel reports the "all keys" convention: both the range start
// and range end are the single byte 0x00.
func isAllKeysSentinel(start, end []byte) bool {
	return bytes.Equal(start, []byte{0}) && bytes.Equal(end, []byte{0})
}

// RevisionIndex maps user keys to their append-only generation history. It
// answers range and from-revision queries but never stores key-value
// payloads; those live in a VersionedStore keyed by the coordinates this
// index hands out.
type RevisionIndex struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// NewRevisionIndex creates an empty index.
func NewRevisionIndex() *RevisionIndex {
	return &RevisionIndex{tree: btree.New(32)}
}

func (idx *RevisionIndex) lookup(key []byte) *keyHistory {
	item := idx.tree.Get(&keyHistory{key: key})
	if item == nil {
		return nil
	}
	return item.(*keyHistory)
}

// walkRange invokes visit for every key history matching the [keyStart,
// keyEnd) convention: a point lookup when keyEnd is empty, every key when
// the "all keys" sentinel is used, otherwise the usual half-open range. An
// inverted or empty range (keyEnd <= keyStart) visits nothing.
func (idx *RevisionIndex) walkRange(keyStart, keyEnd []byte, visit func(*keyHistory)) {
	switch {
	case len(keyEnd) == 0:
		if h := idx.lookup(keyStart); h != nil {
			visit(h)
		}
	case isAllKeysSentinel(keyStart, keyEnd):
		idx.tree.Ascend(func(item btree.Item) bool {
			visit(item.(*keyHistory))
			return true
		})
	default:
		if bytes.Compare(keyEnd, keyStart) <= 0 {
			return
		}
		idx.tree.AscendRange(&keyHistory{key: keyStart}, &keyHistory{key: keyEnd}, func(item btree.Item) bool {
			visit(item.(*keyHistory))
			return true
		})
	}
}

// Get returns, for each key in [keyStart, keyEnd), the RevisionCoord of the
// latest live entry with main <= atRevision (atRevision == 0 means
// "latest"). Tombstoned keys are skipped. Results are key-ascending.
func (idx *RevisionIndex) Get(keyStart, keyEnd []byte, atRevision int64) []RevisionCoord {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var coords []RevisionCoord
	idx.walkRange(keyStart, keyEnd, func(h *keyHistory) {
		if e, ok := h.latestAt(atRevision); ok {
			coords = append(coords, e.Coord)
		}
	})
	return coords
}

// GetFromRev returns every entry (live or tombstoned) in [keyStart, keyEnd)
// with Coord.Main >= sinceRevision, in ascending (key, main, sub) order. It
// is used to replay history to a watcher that subscribes at a past
// revision.
func (idx *RevisionIndex) GetFromRev(keyStart, keyEnd []byte, sinceRevision int64) []RevisionCoord {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var coords []RevisionCoord
	idx.walkRange(keyStart, keyEnd, func(h *keyHistory) {
		for _, e := range h.entries {
			if e.Coord.Main >= sinceRevision {
				coords = append(coords, e.Coord)
			}
		}
	})
	return coords
}

// InsertOrUpdate appends a new generation entry for key at the given
// coordinate. If the key has no prior entry, or its latest entry is a
// tombstone, the new entry starts a fresh generation (create_revision =
// main, version = 1); otherwise it continues the current generation
// (create_revision inherited, version incremented). It panics with an
// InvariantViolation if main/sub is not strictly greater than the key's
// last recorded coordinate, since that would mean the caller is replaying
// an already-applied commit or misordering a concurrent one.
func (idx *RevisionIndex) InsertOrUpdate(key []byte, main, sub int64) IndexEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	coord := RevisionCoord{Main: main, Sub: sub}
	h := idx.lookup(key)
	if h == nil {
		h = &keyHistory{key: append([]byte(nil), key...)}
		idx.tree.ReplaceOrInsert(h)
	}

	var entry IndexEntry
	if len(h.entries) == 0 {
		entry = IndexEntry{CreateRevision: main, Coord: coord, Version: 1}
	} else {
		prev := h.entries[len(h.entries)-1]
		if !coord.GreaterThan(prev.Coord) {
			PanicInvariant("revision index: non-monotonic insert for key " + string(key))
		}
		if prev.IsTombstone() {
			entry = IndexEntry{CreateRevision: main, Coord: coord, Version: 1}
		} else {
			entry = IndexEntry{CreateRevision: prev.CreateRevision, Coord: coord, Version: prev.Version + 1}
		}
	}
	h.entries = append(h.entries, entry)
	return entry
}

// Delete appends a tombstone entry, at coordinate (main, subStart+i), for
// the i-th matching non-tombstone key in [keyStart, keyEnd) (key order).
// Keys already tombstoned, or absent, are skipped. It returns the new
// tombstone coordinates in key order, for VersionedStore.MarkDeletions to
// pair against.
func (idx *RevisionIndex) Delete(keyStart, keyEnd []byte, main, subStart int64) []RevisionCoord {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var coords []RevisionCoord
	sub := subStart
	idx.walkRange(keyStart, keyEnd, func(h *keyHistory) {
		if len(h.entries) == 0 {
			return
		}
		last := h.entries[len(h.entries)-1]
		if last.IsTombstone() {
			return
		}
		coord := RevisionCoord{Main: main, Sub: sub}
		if !coord.GreaterThan(last.Coord) {
			PanicInvariant("revision index: non-monotonic delete for key " + string(h.key))
		}
		h.entries = append(h.entries, IndexEntry{Coord: coord})
		coords = append(coords, coord)
		sub++
	})
	return coords
}
