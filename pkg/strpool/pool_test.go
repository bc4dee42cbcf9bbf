// Copyright 2026 Howso Incorporated
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package strpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndDestroyBalance(t *testing.T) {
	p := New()
	preSize := p.Size()

	id := p.CreateStringReferenceFromString("hello")
	require.NotEqual(t, NotAStringID, id)
	assert.EqualValues(t, 1, p.RefCount(id))

	id2 := p.CreateStringReferenceFromString("hello")
	assert.Equal(t, id, id2)
	assert.EqualValues(t, 2, p.RefCount(id))

	p.DestroyStringReference(id)
	assert.EqualValues(t, 1, p.RefCount(id))

	p.DestroyStringReference(id)
	assert.EqualValues(t, 0, p.RefCount(id))
	assert.Equal(t, NotAStringID, p.GetIDFromString("hello"))
	assert.Equal(t, preSize, p.Size())
}

func TestGetIDFromStringNoInsert(t *testing.T) {
	p := New()
	assert.Equal(t, NotAStringID, p.GetIDFromString("never-interned"))
	assert.Equal(t, preSizeUnchanged(p), p.Size())
}

func preSizeUnchanged(p *Pool) int { return p.Size() }

func TestBuiltinKeywordsStable(t *testing.T) {
	p := New()
	id1 := p.GetIDFromString("map")
	id2 := p.GetIDFromString("map")
	require.NotEqual(t, NotAStringID, id1)
	assert.Equal(t, id1, id2)

	s, ok := p.GetStringFromID(id1)
	require.True(t, ok)
	assert.Equal(t, "map", s)
}

func TestConcurrentCreateDestroy(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := p.CreateStringReferenceFromString("shared-value")
			p.CreateStringReference(id)
			p.DestroyStringReference(id)
			p.DestroyStringReference(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, NotAStringID, p.GetIDFromString("shared-value"))
}
