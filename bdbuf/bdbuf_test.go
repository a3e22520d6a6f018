package bdbuf_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/blkdev/diskreg"
	diskregtest "github.com/blkdev/diskreg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obtainDevice(t *testing.T, env *diskregtest.Env, id diskreg.DeviceID) *diskreg.DiskDevice {
	t.Helper()
	dd := env.Registry.Obtain(id)
	require.NotNil(t, dd)
	t.Cleanup(func() { env.Registry.Release(dd) })
	return dd
}

func TestBuffer__WriteThenRead(t *testing.T) {
	env := diskregtest.NewEnv(t)
	id := diskreg.NewDeviceID(1, 0)
	env.CreateRAMDisk(t, id, 128, 64, "")
	dd := obtainDevice(t, env, id)

	buf, err := env.Buffers.Attach(dd)
	require.NoError(t, err)

	writeBuffer := make([]byte, 128)
	readBuffer := make([]byte, 128)
	for block := uint(0); block < 64; block++ {
		rand.Read(writeBuffer)
		_, err = buf.WriteAt(writeBuffer, block)
		require.NoError(t, err)
		_, err = buf.ReadAt(readBuffer, block)
		require.NoError(t, err)

		assert.Truef(
			t, bytes.Equal(writeBuffer, readBuffer),
			"wrote to block %d but read back different data", block)
	}
}

func TestBuffer__FlushWritesThroughDriver(t *testing.T) {
	env := diskregtest.NewEnv(t)
	id := diskreg.NewDeviceID(1, 0)
	disk := env.CreateRAMDisk(t, id, 128, 16, "")
	dd := obtainDevice(t, env, id)

	buf, err := env.Buffers.Attach(dd)
	require.NoError(t, err)

	payload := make([]byte, 256)
	rand.Read(payload)
	_, err = buf.WriteAt(payload, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, buf.DirtyBlocks(), "two blocks were written")
	assert.EqualValues(t, 0, disk.TouchedBlocks(), "writes must not reach the medium before Flush")

	require.NoError(t, buf.Flush())
	assert.EqualValues(t, 0, buf.DirtyBlocks())
	assert.EqualValues(t, 2, disk.TouchedBlocks())

	// Read the flushed data back through the driver, bypassing the buffer.
	check := make([]byte, 256)
	req := diskreg.ReadWriteRequest{Block: 3, Buffer: check}
	require.NoError(t, dd.Control(diskreg.ReqRead, &req))
	assert.Equal(t, payload, check)
}

func TestBuffer__ReadLoadsMissingBlocksOnly(t *testing.T) {
	env := diskregtest.NewEnv(t)
	id := diskreg.NewDeviceID(1, 0)
	env.CreateRAMDisk(t, id, 512, 16, "")
	dd := obtainDevice(t, env, id)

	// Seed the medium directly through the driver.
	seed := make([]byte, 512)
	rand.Read(seed)
	req := diskreg.ReadWriteRequest{Block: 5, Buffer: seed}
	require.NoError(t, dd.Control(diskreg.ReqWrite, &req))

	buf, err := env.Buffers.Attach(dd)
	require.NoError(t, err)

	got := make([]byte, 512)
	_, err = buf.ReadAt(got, 5)
	require.NoError(t, err)
	assert.Equal(t, seed, got)
}

func TestBuffer__BoundsChecking(t *testing.T) {
	env := diskregtest.NewEnv(t)
	id := diskreg.NewDeviceID(1, 0)
	env.CreateRAMDisk(t, id, 512, 16, "")
	dd := obtainDevice(t, env, id)

	buf, err := env.Buffers.Attach(dd)
	require.NoError(t, err)

	block := make([]byte, 512)

	// Last valid block is fine.
	_, err = buf.ReadAt(block, 15)
	assert.NoError(t, err)

	// One past the end must fail.
	_, err = buf.ReadAt(block, 16)
	assert.Error(t, err)

	// A buffer that is not a block multiple must fail.
	_, err = buf.WriteAt(make([]byte, 100), 0)
	assert.Error(t, err)

	// A span running off the end must fail.
	_, err = buf.WriteAt(make([]byte, 2*512), 15)
	assert.Error(t, err)
}

func TestPool__AttachRequiresInit(t *testing.T) {
	env := diskregtest.NewEnv(t)
	id := diskreg.NewDeviceID(1, 0)
	env.CreateRAMDisk(t, id, 512, 16, "")
	dd := obtainDevice(t, env, id)

	require.NoError(t, env.Registry.Shutdown())

	_, err := env.Buffers.Attach(dd)
	assert.Error(t, err, "pool was closed by the registry shutdown")
}

// A buffer attached to a logical disk must address blocks relative to the
// partition, not the medium.
func TestBuffer__LogicalDiskOffsets(t *testing.T) {
	env := diskregtest.NewEnv(t)
	physID := diskreg.NewDeviceID(1, 0)
	partID := diskreg.NewDeviceID(1, 1)
	env.CreateRAMDisk(t, physID, 512, 100, "")
	require.NoError(t, env.Registry.CreateLogical(partID, physID, 40, 30, ""))

	part := obtainDevice(t, env, partID)
	phys := obtainDevice(t, env, physID)

	buf, err := env.Buffers.Attach(part)
	require.NoError(t, err)

	payload := make([]byte, 512)
	rand.Read(payload)
	_, err = buf.WriteAt(payload, 0)
	require.NoError(t, err)
	require.NoError(t, buf.Flush())

	// Partition block 0 is medium block 40.
	check := make([]byte, 512)
	req := diskreg.ReadWriteRequest{Block: 40, Buffer: check}
	require.NoError(t, phys.Control(diskreg.ReqRead, &req))
	assert.Equal(t, payload, check)
}
