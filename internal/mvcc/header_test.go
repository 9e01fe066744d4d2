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

	"github.com/stretchr/testify/assert"
)

func TestHeaderSourceInitialRevision(t *testing.T) {
	h := NewHeaderSource(1, 2, 7)
	assert.Equal(t, int64(7), h.Revision())

	hdr := h.Header()
	assert.Equal(t, int64(1), hdr.ClusterID)
	assert.Equal(t, int64(2), hdr.MemberID)
	assert.Equal(t, int64(7), hdr.Revision)
}

func TestHeaderSourceSetRevisionVisibleImmediately(t *testing.T) {
	h := NewHeaderSource(1, 1, 0)
	h.SetRevision(5)
	assert.Equal(t, int64(5), h.Revision())
	assert.Equal(t, int64(5), h.Header().Revision)
}
