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
	"testing"
)

func TestRevisionCompare(t *testing.T) {
	tests := []struct {
		name     string
		r1, r2   Revision
		expected int
	}{
		{"equal", Revision{1, 0}, Revision{1, 0}, 0},
		{"main less", Revision{1, 0}, Revision{2, 0}, -1},
		{"main greater", Revision{2, 0}, Revision{1, 0}, 1},
		{"sub less", Revision{1, 0}, Revision{1, 1}, -1},
		{"sub greater", Revision{1, 1}, Revision{1, 0}, 1},
		{"main takes priority", Revision{2, 0}, Revision{1, 5}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r1.Compare(tt.r2); got != tt.expected {
				t.Errorf("Compare() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRevisionComparisons(t *testing.T) {
	r1 := Revision{1, 0}
	r2 := Revision{2, 0}

	if !r1.LessThan(r2) {
		t.Error("expected r1 < r2")
	}
	if !r2.GreaterThan(r1) {
		t.Error("expected r2 > r1")
	}
	if r1.LessThan(r1) {
		t.Error("expected r1 is not < r1")
	}
	if r1.GreaterThan(r1) {
		t.Error("expected r1 is not > r1")
	}
}

func TestRevisionString(t *testing.T) {
	rev := Revision{1, 2}
	s := rev.String()
	if s != "{main: 1, sub: 2}" {
		t.Errorf("String() = %q, want %q", s, "{main: 1, sub: 2}")
	}
}
