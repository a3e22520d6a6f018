// Package bdbuf is the block buffering subsystem the registry initializes
// at startup. A Pool hands out per-device buffers that cache block contents
// in memory and write them back through the device's driver handler; blocks
// are tracked individually, so only missing blocks are fetched and only
// dirty blocks are flushed.
package bdbuf

import (
	"fmt"
	"sync"

	"github.com/blkdev/diskreg"
	"github.com/boljen/go-bitmap"
)

// Pool owns every buffer created against it and flushes them all at Close.
// It satisfies the registry's BufferCache interface; pass it to
// diskreg.WithBufferCache so Initialize brings it up.
type Pool struct {
	mu      sync.Mutex
	buffers []*Buffer
	ready   bool
}

var _ diskreg.BufferCache = (*Pool)(nil)

func NewPool() *Pool {
	return &Pool{}
}

// Init readies the pool. Called once by Registry.Initialize.
func (p *Pool) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready {
		return fmt.Errorf("buffer pool initialized twice")
	}
	p.ready = true
	return nil
}

// Close flushes and drops every buffer. The first flush failure is
// returned, but all buffers are flushed regardless.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, buf := range p.buffers {
		if err := buf.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.buffers = nil
	p.ready = false
	return firstErr
}

// Attach creates a buffer for dd sized to the device's full block range.
// The device descriptor must stay referenced for as long as the buffer is
// in use.
func (p *Pool) Attach(dd *diskreg.DiskDevice) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil, fmt.Errorf("buffer pool is not initialized")
	}

	totalBlocks := dd.BlockCount()
	buf := &Buffer{
		device:        dd,
		bytesPerBlock: uint(dd.BlockSize()),
		totalBlocks:   uint(totalBlocks),
		loadedBlocks:  bitmap.NewSlice(int(totalBlocks)),
		dirtyBlocks:   bitmap.NewSlice(int(totalBlocks)),
		data:          make([]byte, uint(dd.BlockSize())*uint(totalBlocks)),
	}
	p.buffers = append(p.buffers, buf)
	return buf, nil
}

// Buffer caches the blocks of a single device. All block indices are
// relative to the device, starting at 0; the driver maps them onto the
// medium using the device's start block.
type Buffer struct {
	mu            sync.Mutex
	device        *diskreg.DiskDevice
	bytesPerBlock uint
	totalBlocks   uint
	loadedBlocks  bitmap.Bitmap
	dirtyBlocks   bitmap.Bitmap
	data          []byte
}

// BytesPerBlock returns the size of a single block, in bytes.
func (buf *Buffer) BytesPerBlock() uint {
	return buf.bytesPerBlock
}

// TotalBlocks returns the size of the buffer, in blocks.
func (buf *Buffer) TotalBlocks() uint {
	return buf.totalBlocks
}

func (buf *Buffer) checkBounds(start uint, count uint) error {
	if start+count > buf.totalBlocks {
		return fmt.Errorf(
			"can't access %d block(s) from block %d; range not in [0, %d)",
			count,
			start,
			buf.totalBlocks,
		)
	}
	return nil
}

func (buf *Buffer) slice(start uint, count uint) []byte {
	startOffset := start * buf.bytesPerBlock
	return buf.data[startOffset : startOffset+count*buf.bytesPerBlock]
}

// loadBlockRange ensures all blocks in [start, start+count) are present in
// the buffer, fetching any missing ones through the driver.
func (buf *Buffer) loadBlockRange(start uint, count uint) error {
	for blockIndex := start; blockIndex < start+count; blockIndex++ {
		// Dirty blocks are loaded by definition, so checking loadedBlocks
		// alone is enough.
		if buf.loadedBlocks.Get(int(blockIndex)) {
			continue
		}

		req := diskreg.ReadWriteRequest{
			Block:  uint64(blockIndex),
			Buffer: buf.slice(blockIndex, 1),
		}
		if err := buf.device.Control(diskreg.ReqRead, &req); err != nil {
			return fmt.Errorf("failed to load block %d from device %s: %s",
				blockIndex, buf.device.ID(), err.Error())
		}

		buf.loadedBlocks.Set(int(blockIndex), true)
		buf.dirtyBlocks.Set(int(blockIndex), false)
	}
	return nil
}

// ReadAt copies blocks [start, start + len(b)/blockSize) into b. The length
// of b must be a multiple of the block size.
func (buf *Buffer) ReadAt(b []byte, start uint) (int, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	count, err := buf.blockSpan(b, start)
	if err != nil {
		return 0, err
	}
	if err := buf.loadBlockRange(start, count); err != nil {
		return 0, err
	}
	copy(b, buf.slice(start, count))
	return len(b), nil
}

// WriteAt copies b over blocks [start, start + len(b)/blockSize) and marks
// them dirty. The data is not pushed to the driver until Flush.
func (buf *Buffer) WriteAt(b []byte, start uint) (int, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	count, err := buf.blockSpan(b, start)
	if err != nil {
		return 0, err
	}
	copy(buf.slice(start, count), b)
	for blockIndex := start; blockIndex < start+count; blockIndex++ {
		buf.loadedBlocks.Set(int(blockIndex), true)
		buf.dirtyBlocks.Set(int(blockIndex), true)
	}
	return len(b), nil
}

func (buf *Buffer) blockSpan(b []byte, start uint) (uint, error) {
	if len(b) == 0 || uint(len(b))%buf.bytesPerBlock != 0 {
		return 0, fmt.Errorf(
			"buffer length must be a nonzero multiple of the block size (%d B), got %d",
			buf.bytesPerBlock,
			len(b),
		)
	}
	count := uint(len(b)) / buf.bytesPerBlock
	if err := buf.checkBounds(start, count); err != nil {
		return 0, err
	}
	return count, nil
}

// Flush writes every dirty block back through the driver and marks it
// clean, then asks the driver to sync the medium.
func (buf *Buffer) Flush() error {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	for blockIndex := uint(0); blockIndex < buf.totalBlocks; blockIndex++ {
		if !buf.dirtyBlocks.Get(int(blockIndex)) {
			continue
		}

		req := diskreg.ReadWriteRequest{
			Block:  uint64(blockIndex),
			Buffer: buf.slice(blockIndex, 1),
		}
		if err := buf.device.Control(diskreg.ReqWrite, &req); err != nil {
			return fmt.Errorf("failed to flush block %d to device %s: %s",
				blockIndex, buf.device.ID(), err.Error())
		}
		buf.dirtyBlocks.Set(int(blockIndex), false)
	}

	return buf.device.Control(diskreg.ReqFlush, nil)
}

// DirtyBlocks returns how many blocks have unflushed writes.
func (buf *Buffer) DirtyBlocks() uint {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	dirty := uint(0)
	for blockIndex := uint(0); blockIndex < buf.totalBlocks; blockIndex++ {
		if buf.dirtyBlocks.Get(int(blockIndex)) {
			dirty++
		}
	}
	return dirty
}
