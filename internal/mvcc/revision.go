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

import "fmt"

// Revision represents a unique version identifier in MVCC.
// It consists of a main revision (incremented per transaction) and
// a sub revision (incremented per operation within a transaction).
// This is compatible with etcd's revision model.
type Revision struct {
	// Main is the main revision number, incremented for each transaction.
	Main int64

	// Sub is the sub revision number, incremented for each operation within a transaction.
	// Starts from 0 for each new main revision.
	Sub int64
}

// Compare compares two revisions.
// Returns -1 if r < other, 0 if r == other, 1 if r > other.
func (r Revision) Compare(other Revision) int {
	if r.Main < other.Main {
		return -1
	}
	if r.Main > other.Main {
		return 1
	}
	if r.Sub < other.Sub {
		return -1
	}
	if r.Sub > other.Sub {
		return 1
	}
	return 0
}

// GreaterThan returns true if r > other.
func (r Revision) GreaterThan(other Revision) bool {
	return r.Compare(other) > 0
}

// LessThan returns true if r < other.
func (r Revision) LessThan(other Revision) bool {
	return r.Compare(other) < 0
}

// String returns a string representation of the revision.
func (r Revision) String() string {
	return fmt.Sprintf("{main: %d, sub: %d}", r.Main, r.Sub)
}
