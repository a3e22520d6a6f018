package diskreg

import "sync/atomic"

// DiskDevice is a block-device descriptor. Descriptors are owned by the
// registry's device table; pointers handed out by Obtain and Next are
// borrows that stay valid only until the matching Release.
type DiskDevice struct {
	id   DeviceID
	name string

	// physOwner points at the physical disk this device maps onto. For a
	// physical disk it points at the descriptor itself.
	physOwner *DiskDevice

	startBlock     uint64
	blockCount     uint64
	blockSize      uint32
	mediaBlockSize uint32

	capabilities Capabilities
	ioctl        IOControl
	driverData   any

	// state packs the deleted flag (top bit) and the use count (the rest)
	// into one word so that Obtain and Release can update both together
	// without taking the registry lock.
	state atomic.Uint64
}

const deletedFlag = uint64(1) << 63

// ID returns the device's identifier, which is also its table position.
func (dd *DiskDevice) ID() DeviceID { return dd.id }

// Name returns the published path name, or "" if the device is anonymous.
func (dd *DiskDevice) Name() string { return dd.name }

// IsPhysical reports whether this descriptor is a physical disk rather than
// a logical partition of one.
func (dd *DiskDevice) IsPhysical() bool { return dd.physOwner == dd }

// Physical returns the physical disk backing this device. For a physical
// disk it returns the receiver.
func (dd *DiskDevice) Physical() *DiskDevice { return dd.physOwner }

// StartBlock returns the first block of the physical medium this device
// exposes. Zero for physical disks.
func (dd *DiskDevice) StartBlock() uint64 { return dd.startBlock }

// BlockCount returns the number of blocks this device exposes.
func (dd *DiskDevice) BlockCount() uint64 { return dd.blockCount }

// BlockSize returns the logical block size in bytes.
func (dd *DiskDevice) BlockSize() uint32 { return dd.blockSize }

// MediaBlockSize returns the block size of the underlying medium.
func (dd *DiskDevice) MediaBlockSize() uint32 { return dd.mediaBlockSize }

// Capabilities returns the bitmask the driver reported at creation.
func (dd *DiskDevice) Capabilities() Capabilities { return dd.capabilities }

// DriverData returns the opaque context registered with the handler.
func (dd *DiskDevice) DriverData() any { return dd.driverData }

// Control invokes the device's driver handler.
func (dd *DiskDevice) Control(req IORequest, arg any) error {
	return dd.ioctl(dd, req, arg)
}

// Uses returns the current number of outstanding references.
func (dd *DiskDevice) Uses() uint64 {
	return dd.state.Load() &^ deletedFlag
}

// Deleted reports whether the device has been logically removed. A deleted
// device lingers in the table until its use count reaches zero.
func (dd *DiskDevice) Deleted() bool {
	return dd.state.Load()&deletedFlag != 0
}

// acquire takes a reference. It fails if the device has been deleted.
func (dd *DiskDevice) acquire() bool {
	for {
		s := dd.state.Load()
		if s&deletedFlag != 0 {
			return false
		}
		if dd.state.CompareAndSwap(s, s+1) {
			return true
		}
	}
}

// releaseRef drops one reference and returns the remaining count plus the
// deleted flag, both from the same atomic update.
func (dd *DiskDevice) releaseRef() (uses uint64, deleted bool) {
	s := dd.state.Add(^uint64(0))
	return s &^ deletedFlag, s&deletedFlag != 0
}

// dropUses drops n references at once. Only called with the registry lock
// held, by the cleanup pass. n must be > 0.
func (dd *DiskDevice) dropUses(n uint64) {
	dd.state.Add(^(n - 1))
}

func (dd *DiskDevice) markDeleted() {
	for {
		s := dd.state.Load()
		if dd.state.CompareAndSwap(s, s|deletedFlag) {
			return
		}
	}
}
