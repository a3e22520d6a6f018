// Package ramdisk implements a memory-backed block-device driver. It exists
// so the registry has a real driver to register devices against: the CLI
// and the test suite both build their disks on it.
package ramdisk

import (
	"fmt"
	"io"
	"sync"

	"github.com/blkdev/diskreg"
	"github.com/boljen/go-bitmap"
	"github.com/xaionaro-go/bytesextra"
)

// Disk is a fixed-size in-memory medium. One Disk backs one physical
// device; the logical disks created on that device share it through their
// inherited handler and translate block numbers via their start block.
type Disk struct {
	mu          sync.Mutex
	stream      io.ReadWriteSeeker
	blockSize   uint32
	totalBlocks uint64
	touched     bitmap.Bitmap
	deletions   int
}

// New allocates a medium of totalBlocks blocks of blockSize bytes each,
// zero-filled.
func New(blockSize uint32, totalBlocks uint64) *Disk {
	return &Disk{
		stream:      bytesextra.NewReadWriteSeeker(make([]byte, uint64(blockSize)*totalBlocks)),
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
		touched:     bitmap.NewSlice(int(totalBlocks)),
	}
}

// BlockSize returns the medium's block size in bytes.
func (d *Disk) BlockSize() uint32 { return d.blockSize }

// TotalBlocks returns the size of the medium in blocks.
func (d *Disk) TotalBlocks() uint64 { return d.totalBlocks }

// IOControl is the driver handler to register with
// Registry.CreatePhysical.
func (d *Disk) IOControl(dd *diskreg.DiskDevice, req diskreg.IORequest, arg any) error {
	switch req {
	case diskreg.ReqCapabilities:
		caps, ok := arg.(*diskreg.Capabilities)
		if !ok {
			return fmt.Errorf("capability query needs a *Capabilities argument")
		}
		*caps = diskreg.CapMultisectorIO | diskreg.CapZeroBlocks
		return nil

	case diskreg.ReqDeleted:
		d.mu.Lock()
		d.deletions++
		d.mu.Unlock()
		return nil

	case diskreg.ReqRead:
		return d.transfer(dd, arg, true)

	case diskreg.ReqWrite:
		return d.transfer(dd, arg, false)

	case diskreg.ReqFlush:
		// Memory is the medium; nothing to push.
		return nil

	default:
		return fmt.Errorf("unsupported request %d", req)
	}
}

// transfer performs a read or a write. Reading and writing differ only by
// a single method call on the stream, so both run through here.
func (d *Disk) transfer(dd *diskreg.DiskDevice, arg any, read bool) error {
	req, ok := arg.(*diskreg.ReadWriteRequest)
	if !ok {
		return fmt.Errorf("transfer request needs a *ReadWriteRequest argument")
	}
	if len(req.Buffer) == 0 || uint32(len(req.Buffer))%d.blockSize != 0 {
		return fmt.Errorf(
			"transfer length must be a nonzero multiple of the block size (%d B), got %d",
			d.blockSize,
			len(req.Buffer),
		)
	}

	count := uint64(len(req.Buffer)) / uint64(d.blockSize)
	if req.Block+count > dd.BlockCount() {
		return fmt.Errorf(
			"blocks [%d, %d) not in device range [0, %d)",
			req.Block,
			req.Block+count,
			dd.BlockCount(),
		)
	}

	// Map the device-relative block onto the medium.
	mediumBlock := dd.StartBlock() + req.Block
	if mediumBlock+count > d.totalBlocks {
		return fmt.Errorf(
			"medium blocks [%d, %d) not in range [0, %d)",
			mediumBlock,
			mediumBlock+count,
			d.totalBlocks,
		)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.stream.Seek(int64(mediumBlock)*int64(d.blockSize), io.SeekStart); err != nil {
		return err
	}
	if read {
		_, err := io.ReadFull(d.stream, req.Buffer)
		return err
	}
	if _, err := d.stream.Write(req.Buffer); err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		d.touched.Set(int(mediumBlock+i), true)
	}
	return nil
}

// DeleteNotifications returns how many times the registry has sent this
// driver a deletion notification. A correctly behaving registry sends
// exactly one per physical device freed.
func (d *Disk) DeleteNotifications() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deletions
}

// TouchedBlocks returns the number of medium blocks that have ever been
// written.
func (d *Disk) TouchedBlocks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	touched := uint64(0)
	for i := uint64(0); i < d.totalBlocks; i++ {
		if d.touched.Get(int(i)) {
			touched++
		}
	}
	return touched
}
