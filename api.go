// Package diskreg implements a registry of block devices addressed by
// major/minor device identifiers. It tracks physical disks and the logical
// partitions layered on them, hands out reference-counted access to their
// descriptors, and defers destruction of a deleted device until its last
// holder lets go.
package diskreg

// IORequest identifies a driver control operation. The registry itself only
// issues ReqCapabilities (at creation) and ReqDeleted (at final free); the
// remaining requests are the contract between drivers and I/O layers such as
// the bdbuf cache.
type IORequest int

const (
	// ReqCapabilities asks the driver to fill in a *Capabilities argument.
	ReqCapabilities IORequest = iota
	// ReqDeleted notifies the driver that its device descriptor has been
	// freed. The argument is nil and the result is ignored.
	ReqDeleted
	// ReqRead reads blocks into the buffer of a *ReadWriteRequest argument.
	ReqRead
	// ReqWrite writes the buffer of a *ReadWriteRequest argument.
	ReqWrite
	// ReqFlush asks the driver to push any buffered writes to the medium.
	ReqFlush
)

// IOControl is the control callback a driver registers for its devices. A
// logical disk shares the handler (and driver data) of the physical disk it
// sits on; the handler can translate block numbers itself via
// DiskDevice.StartBlock.
type IOControl func(dd *DiskDevice, req IORequest, arg any) error

// Capabilities is the bitmask a driver reports through ReqCapabilities.
type Capabilities uint32

const (
	// CapMultisectorIO means the driver accepts requests spanning more than
	// one block.
	CapMultisectorIO Capabilities = 1 << iota
	// CapZeroBlocks means the driver returns zero-filled data for blocks
	// that were never written.
	CapZeroBlocks
	// CapTrim means the driver supports discarding block contents.
	CapTrim
)

// ReadWriteRequest is the argument for ReqRead and ReqWrite. Block is
// relative to the device the request was issued against; drivers add the
// device's start block to map it onto the physical medium. Buffer length
// must be a multiple of the device's block size.
type ReadWriteRequest struct {
	Block  uint64
	Buffer []byte
}

// NamePublisher publishes device path names so that devices can be found by
// name. Publication failures abort device creation; the registry unpublishes
// a device's name when the device is finally freed.
type NamePublisher interface {
	Publish(name string, id DeviceID) error
	Unpublish(name string) error
}

// BufferCache is the block buffering subsystem the registry initializes as
// part of Initialize. An Init failure aborts initialization.
type BufferCache interface {
	Init() error
	Close() error
}
