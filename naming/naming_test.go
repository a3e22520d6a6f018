package naming_test

import (
	"testing"

	"github.com/blkdev/diskreg"
	"github.com/blkdev/diskreg/naming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable__PublishAndLookup(t *testing.T) {
	table := naming.New()
	id := diskreg.NewDeviceID(8, 0)

	require.NoError(t, table.Publish("/dev/sd0", id))

	resolved, ok := table.Lookup("/dev/sd0")
	require.True(t, ok)
	assert.Equal(t, id, resolved)

	_, ok = table.Lookup("/dev/sd1")
	assert.False(t, ok)
}

func TestTable__PublishRejectsDuplicates(t *testing.T) {
	table := naming.New()
	require.NoError(t, table.Publish("/dev/sd0", diskreg.NewDeviceID(8, 0)))

	err := table.Publish("/dev/sd0", diskreg.NewDeviceID(8, 1))
	assert.Error(t, err)

	// The original binding must survive.
	resolved, ok := table.Lookup("/dev/sd0")
	require.True(t, ok)
	assert.Equal(t, diskreg.NewDeviceID(8, 0), resolved)
}

func TestTable__PublishRejectsEmptyName(t *testing.T) {
	table := naming.New()
	assert.Error(t, table.Publish("", diskreg.NewDeviceID(0, 0)))
}

func TestTable__Unpublish(t *testing.T) {
	table := naming.New()
	require.NoError(t, table.Publish("/dev/sd0", diskreg.NewDeviceID(8, 0)))

	require.NoError(t, table.Unpublish("/dev/sd0"))
	_, ok := table.Lookup("/dev/sd0")
	assert.False(t, ok)

	assert.Error(t, table.Unpublish("/dev/sd0"), "double unpublish must fail")
}

func TestTable__NamesAreSorted(t *testing.T) {
	table := naming.New()
	require.NoError(t, table.Publish("/dev/c", diskreg.NewDeviceID(0, 2)))
	require.NoError(t, table.Publish("/dev/a", diskreg.NewDeviceID(0, 0)))
	require.NoError(t, table.Publish("/dev/b", diskreg.NewDeviceID(0, 1)))

	assert.Equal(t, []string{"/dev/a", "/dev/b", "/dev/c"}, table.Names())
}
