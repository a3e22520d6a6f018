package diskreg_test

import (
	"testing"

	"github.com/blkdev/diskreg"
	"github.com/stretchr/testify/assert"
)

func TestDeviceIDSplit(t *testing.T) {
	id := diskreg.NewDeviceID(8, 17)
	major, minor := id.Split()
	assert.EqualValues(t, 8, major)
	assert.EqualValues(t, 17, minor)
	assert.EqualValues(t, 8, id.Major())
	assert.EqualValues(t, 17, id.Minor())
	assert.Equal(t, "8:17", id.String())
}

// Identifiers must order by major first, then minor, since enumeration
// relies on ascending identifier order matching table positions.
func TestDeviceIDOrdering(t *testing.T) {
	assert.Less(
		t,
		diskreg.NewDeviceID(1, 0xFFFFFFFF),
		diskreg.NewDeviceID(2, 0))
	assert.Less(
		t,
		diskreg.NewDeviceID(3, 7),
		diskreg.NewDeviceID(3, 8))
}

func TestDeviceIDExtremes(t *testing.T) {
	id := diskreg.NewDeviceID(0xFFFFFFFF, 0xFFFFFFFF)
	assert.EqualValues(t, 0xFFFFFFFF, id.Major())
	assert.EqualValues(t, 0xFFFFFFFF, id.Minor())

	zero := diskreg.NewDeviceID(0, 0)
	assert.EqualValues(t, 0, zero.Major())
	assert.EqualValues(t, 0, zero.Minor())
}
