// Package testing holds helpers shared by the test suites of the registry
// and its collaborator packages.
package testing

import (
	"testing"

	"github.com/blkdev/diskreg"
	"github.com/blkdev/diskreg/bdbuf"
	"github.com/blkdev/diskreg/drivers/ramdisk"
	"github.com/blkdev/diskreg/naming"
	"github.com/stretchr/testify/require"
)

// Env bundles an initialized registry with the collaborators it was built
// with, so tests can reach all of them.
type Env struct {
	Registry *diskreg.Registry
	Names    *naming.Table
	Buffers  *bdbuf.Pool
}

// NewEnv builds and initializes a registry with an in-memory name table and
// a buffer pool. The registry is shut down when the test finishes.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	env := &Env{
		Names:   naming.New(),
		Buffers: bdbuf.NewPool(),
	}
	env.Registry = diskreg.New(
		diskreg.WithNamePublisher(env.Names),
		diskreg.WithBufferCache(env.Buffers),
	)
	require.NoError(t, env.Registry.Initialize(), "failed to initialize registry")

	t.Cleanup(func() {
		// Tests that shut the registry down themselves leave it
		// unconfigured, which Shutdown reports; that is fine here.
		_ = env.Registry.Shutdown()
	})
	return env
}

// CreateRAMDisk registers a new RAM-backed physical disk and returns its
// driver so tests can inspect deletion notifications and I/O.
func (env *Env) CreateRAMDisk(
	t *testing.T, id diskreg.DeviceID, blockSize uint32, blockCount uint64, name string,
) *ramdisk.Disk {
	t.Helper()

	disk := ramdisk.New(blockSize, blockCount)
	err := env.Registry.CreatePhysical(id, blockSize, blockCount, disk.IOControl, disk, name)
	require.NoError(t, err, "failed to create physical disk %s", id)
	return disk
}
