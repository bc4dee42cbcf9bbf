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

package constraints

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStepBudget(t *testing.T) {
	c := &Constraints{MaxExecutionSteps: 3}
	assert.True(t, c.NoteStep())
	assert.True(t, c.NoteStep())
	assert.True(t, c.NoteStep())
	assert.False(t, c.NoteStep())
	assert.True(t, c.Exceeded)
	assert.Equal(t, ViolationExecutionStep, c.Violation)
}

func TestUnlimitedNeverExceeds(t *testing.T) {
	c := Unlimited()
	for i := 0; i < 10000; i++ {
		assert.True(t, c.NoteStep())
	}
}

func TestPermissionGrant(t *testing.T) {
	var s Set
	assert.False(t, s.Has(PermStdOutAndStdErr))
	s = s.Grant(PermStdOutAndStdErr)
	assert.True(t, s.Has(PermStdOutAndStdErr))
	assert.True(t, s.CanGrant(PermStdOutAndStdErr))
	assert.False(t, s.CanGrant(PermSystem))
	s = s.Revoke(PermStdOutAndStdErr)
	assert.False(t, s.Has(PermStdOutAndStdErr))
}

func TestOnceExceededStaysExceeded(t *testing.T) {
	c := &Constraints{MaxOpcodeDepth: 2}
	assert.True(t, c.CheckOpcodeDepth(1))
	assert.False(t, c.CheckOpcodeDepth(3))
	// A subsequent, otherwise-fine check still fails: the cooperative
	// unwinding must not "un-exceed" once tripped.
	assert.False(t, c.CheckOpcodeDepth(1))
}
