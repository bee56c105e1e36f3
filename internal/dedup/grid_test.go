package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/technosupport/ts-vms/internal/geometry"
)

func TestCheckAndInsert_SameCellIsDuplicate(t *testing.T) {
	r := NewRing(20, 50, 30)
	a := geometry.BBox{X1: 10, Y1: 10, X2: 15, Y2: 15}
	b := geometry.BBox{X1: 11, Y1: 11, X2: 16, Y2: 16} // same grid cell

	dup1, _ := r.CheckAndInsert("gun", a, 0)
	dup2, _ := r.CheckAndInsert("gun", b, 1)

	assert.False(t, dup1)
	assert.True(t, dup2)
}

func TestCheckAndInsert_DifferentCellIsNotDuplicate(t *testing.T) {
	r := NewRing(20, 50, 30)
	a := geometry.BBox{X1: 0, Y1: 0, X2: 5, Y2: 5}
	b := geometry.BBox{X1: 500, Y1: 500, X2: 505, Y2: 505}

	dup1, _ := r.CheckAndInsert("gun", a, 0)
	dup2, _ := r.CheckAndInsert("gun", b, 1)

	assert.False(t, dup1)
	assert.False(t, dup2)
}

func TestCheckAndInsert_OutsideWindowIsNotDuplicate(t *testing.T) {
	r := NewRing(20, 50, 5)
	bbox := geometry.BBox{X1: 10, Y1: 10, X2: 15, Y2: 15}

	dup1, _ := r.CheckAndInsert("gun", bbox, 0)
	dup2, _ := r.CheckAndInsert("gun", bbox, 100) // far beyond the 5-frame window

	assert.False(t, dup1)
	assert.False(t, dup2)
}

func TestCheckAndInsert_DifferentLabelIsNotDuplicate(t *testing.T) {
	r := NewRing(20, 50, 30)
	bbox := geometry.BBox{X1: 10, Y1: 10, X2: 15, Y2: 15}

	dup1, _ := r.CheckAndInsert("gun", bbox, 0)
	dup2, _ := r.CheckAndInsert("knife", bbox, 1)

	assert.False(t, dup1)
	assert.False(t, dup2)
}
