package disks_test

import (
	"testing"

	"github.com/blkdev/diskreg"
	"github.com/blkdev/diskreg/disks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredefinedProfiles(t *testing.T) {
	profile, err := disks.Predefined("sd0")
	require.NoError(t, err)

	assert.Equal(t, "/dev/sd0", profile.Name)
	assert.Equal(t, diskreg.NewDeviceID(8, 0), profile.DeviceID())
	assert.EqualValues(t, 512, profile.BlockSize)
	assert.EqualValues(t, 262144, profile.BlockCount)

	parts, err := profile.PartitionList()
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, disks.Partition{BeginBlock: 0, BlockCount: 131072}, parts[0])
	assert.Equal(t, disks.Partition{BeginBlock: 131072, BlockCount: 131072}, parts[1])
}

func TestPredefinedUnknownSlug(t *testing.T) {
	_, err := disks.Predefined("no-such-disk")
	assert.Error(t, err)
}

func TestListIsSortedBySlug(t *testing.T) {
	profiles := disks.List()
	require.NotEmpty(t, profiles)
	for i := 1; i < len(profiles); i++ {
		assert.Less(t, profiles[i-1].Slug, profiles[i].Slug)
	}
}

func TestLoadFromCSV(t *testing.T) {
	csvText := "name,slug,major,minor,block_size,block_count,partitions\n" +
		"/dev/test0,test0,250,0,4096,1024,0:512;512:512\n"

	profiles, err := disks.Load(csvText)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, diskreg.NewDeviceID(250, 0), profiles[0].DeviceID())

	parts, err := profiles[0].PartitionList()
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestPartitionListMalformed(t *testing.T) {
	profile := disks.Profile{Slug: "bad", Partitions: "nonsense"}
	_, err := profile.PartitionList()
	assert.Error(t, err)

	profile.Partitions = "10:x"
	_, err = profile.PartitionList()
	assert.Error(t, err)
}

// Every embedded profile must parse cleanly, partitions included, and the
// partitions must fit the disk.
func TestEmbeddedProfilesAreWellFormed(t *testing.T) {
	for _, profile := range disks.List() {
		parts, err := profile.PartitionList()
		require.NoError(t, err, "profile %q", profile.Slug)
		for _, part := range parts {
			assert.Greater(t, part.BlockCount, uint64(0))
			assert.LessOrEqual(
				t, part.BeginBlock+part.BlockCount, profile.BlockCount,
				"partition outside disk in profile %q", profile.Slug)
		}
	}
}
