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

// revisionItem is a single VersionedStore slot, ordered by its coordinate.
type revisionItem struct {
	coord RevisionCoord
	kv    *KeyValue
}

func (r *revisionItem) Less(than btree.Item) bool {
	return r.coord.LessThan(than.(*revisionItem).coord)
}

// VersionedStore maps a RevisionCoord to the KeyValue payload committed at
// that coordinate. The commit path stores a tombstone KeyValue at every
// tombstone coordinate minted by RevisionIndex.Delete, and MarkDeletions
// replaces the deleted value at its original coordinate with a tombstone
// too, so every coordinate the index hands out has an entry here.
type VersionedStore struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// NewVersionedStore creates an empty store.
func NewVersionedStore() *VersionedStore {
	return &VersionedStore{tree: btree.New(32)}
}

// Insert records kv at coord. A second insert at the same coordinate is
// allowed only if it carries an identical kv, in which case it is a no-op;
// any other collision is an
// invariant violation, since coordinates are assigned by a single commit
// driver and must never be reused for different content.
func (s *VersionedStore) Insert(coord RevisionCoord, kv *KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := &revisionItem{coord: coord}
	if existing := s.tree.Get(item); existing != nil {
		prev := existing.(*revisionItem).kv
		if !sameKeyValue(prev, kv) {
			PanicInvariant("versioned store: conflicting insert at revision " + coord.String())
		}
		return
	}
	s.tree.ReplaceOrInsert(&revisionItem{coord: coord, kv: kv})
}

// GetValues returns the KeyValue stored at each coord, in the same order as
// coords, skipping any coord with no entry.
func (s *VersionedStore) GetValues(coords []RevisionCoord) []*KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]*KeyValue, 0, len(coords))
	for _, c := range coords {
		if item := s.tree.Get(&revisionItem{coord: c}); item != nil {
			values = append(values, item.(*revisionItem).kv)
		}
	}
	return values
}

// MarkDeletions converts the live entry at each coord into a tombstone
// (Version and CreateRevision reset to zero, ModRevision left as it was)
// and returns the pre-deletion values, in the order coords were given. A
// coord with no entry is skipped.
func (s *VersionedStore) MarkDeletions(coords []RevisionCoord) []*KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevValues := make([]*KeyValue, 0, len(coords))
	for _, c := range coords {
		item := s.tree.Get(&revisionItem{coord: c})
		if item == nil {
			continue
		}
		ri := item.(*revisionItem)
		prevValues = append(prevValues, ri.kv)
		ri.kv = &KeyValue{Key: ri.kv.Key, ModRevision: ri.kv.ModRevision}
	}
	return prevValues
}

// Len reports the number of entries currently stored.
func (s *VersionedStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

func sameKeyValue(a, b *KeyValue) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.Key, b.Key) &&
		bytes.Equal(a.Value, b.Value) &&
		a.CreateRevision == b.CreateRevision &&
		a.ModRevision == b.ModRevision &&
		a.Version == b.Version &&
		a.Lease == b.Lease
}
