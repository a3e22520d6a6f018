package diskreg

import (
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Registry is a table of disk-device descriptors addressed by DeviceID.
// The zero value is unusable; construct instances with New and arm them
// with Initialize. Instances are independent, so tests can build and tear
// down their own.
type Registry struct {
	lc  lockCoordinator
	tab atomic.Pointer[deviceTable]

	names NamePublisher
	cache BufferCache

	// Optional table capacity limits. Zero means unlimited.
	maxMajors uint32
	maxMinors uint32
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithNamePublisher sets the facility device names are published through.
// Without one, names are recorded on the descriptor but not published.
func WithNamePublisher(p NamePublisher) Option {
	return func(r *Registry) { r.names = p }
}

// WithBufferCache sets the buffering subsystem Initialize brings up.
func WithBufferCache(c BufferCache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithTableLimits caps the number of majors and of minors per major the
// table will grow to. Creation beyond a cap fails with ErrOutOfMemory.
func WithTableLimits(maxMajors, maxMinors uint32) Option {
	return func(r *Registry) {
		r.maxMajors = maxMajors
		r.maxMinors = maxMinors
	}
}

// New constructs a Registry. Initialize must be called before use.
func New(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize allocates the device table, arms the lock coordinator, and
// initializes the buffer cache. Calling it on a registry that is already
// initialized succeeds without effect. A buffer cache failure aborts
// initialization with ErrUnsatisfied and leaves the registry unconfigured.
func (r *Registry) Initialize() error {
	r.lc.mu.Lock()
	defer r.lc.mu.Unlock()

	if r.lc.configured.Load() {
		return nil
	}

	if r.cache != nil {
		if err := r.cache.Init(); err != nil {
			return ErrUnsatisfied.Wrap(err)
		}
	}

	size := tableInitialSize
	if r.maxMajors != 0 && uint32(size) > r.maxMajors {
		size = int(r.maxMajors)
	}
	r.tab.Store(newDeviceTable(size))
	r.lc.configured.Store(true)
	return nil
}

// Shutdown frees every remaining device unconditionally, ignoring use
// counts: names are unpublished, physical-disk drivers receive their
// deletion notification, and the table is released. Collaborator failures
// along the way are collected and returned together; teardown always runs
// to completion.
func (r *Registry) Shutdown() error {
	if err := r.lc.lock(); err != nil {
		return err
	}

	var errs *multierror.Error

	t := r.tab.Load()
	for major := range t.majors {
		mt := t.majors[major].Load()
		if mt == nil {
			continue
		}
		for minor := range mt.slots {
			dd := mt.slots[minor].Load()
			if dd == nil {
				continue
			}
			mt.slots[minor].Store(nil)
			if err := r.freeDevice(dd); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	r.tab.Store(nil)
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	r.lc.configured.Store(false)
	r.lc.unlock()

	return errs.ErrorOrNil()
}

// getDiskEntry looks up id and takes a reference on the device. Deleted
// devices are not eligible. Runs either under the lock or on the fast path;
// slot reads and the reference bump are atomic either way.
func (r *Registry) getDiskEntry(id DeviceID) *DiskDevice {
	dd := r.lookup(id)
	if dd != nil && dd.acquire() {
		return dd
	}
	return nil
}

// CreatePhysical creates a physical disk device. The handler is required;
// block size must be nonzero. The device exposes blocks [0, blockCount) of
// its medium with identical logical and media block sizes. If name is not
// empty it is published; publication failure aborts the creation with
// ErrUnsatisfied and leaves the table unchanged.
//
// The driver's capabilities are queried through the handler; a query
// failure is tolerated and yields no capabilities.
func (r *Registry) CreatePhysical(
	id DeviceID,
	blockSize uint32,
	blockCount uint64,
	handler IOControl,
	driverData any,
	name string,
) error {
	if handler == nil {
		return ErrInvalidAddress.WithMessage("driver handler is required")
	}
	if blockSize == 0 {
		return ErrInvalidNumber.WithMessage("block size must be nonzero")
	}

	if err := r.lc.lock(); err != nil {
		return err
	}

	slot, err := r.ensureSlot(id)
	if err != nil {
		r.lc.unlock()
		return err
	}
	if slot.Load() != nil {
		r.lc.unlock()
		return ErrResourceInUse.WithMessage(id.String())
	}

	dd := &DiskDevice{
		id:             id,
		name:           name,
		startBlock:     0,
		blockCount:     blockCount,
		blockSize:      blockSize,
		mediaBlockSize: blockSize,
		ioctl:          handler,
		driverData:     driverData,
	}
	dd.physOwner = dd

	if err := handler(dd, ReqCapabilities, &dd.capabilities); err != nil {
		dd.capabilities = 0
	}

	if err := r.publishName(dd); err != nil {
		r.lc.unlock()
		return err
	}

	// The descriptor is fully initialized before it becomes visible, so the
	// fast lookup path never sees a half-built device.
	slot.Store(dd)
	r.lc.unlock()

	return nil
}

// CreateLogical creates a logical disk exposing blocks
// [beginBlock, beginBlock+blockCount) of the physical disk physID. The
// region must lie entirely within the physical disk and be non-empty. The
// new device inherits block size, handler, and driver data from the
// physical disk, and holds a reference on it until the logical disk is
// freed.
func (r *Registry) CreateLogical(
	id DeviceID,
	physID DeviceID,
	beginBlock uint64,
	blockCount uint64,
	name string,
) error {
	if err := r.lc.lock(); err != nil {
		return err
	}

	phys := r.getDiskEntry(physID)
	if phys == nil || !phys.IsPhysical() {
		if phys != nil {
			phys.dropUses(1)
		}
		r.lc.unlock()
		return ErrInvalidID.WithMessage("no physical disk at " + physID.String())
	}

	// endBlock <= beginBlock catches both a zero-length region and uint64
	// wraparound.
	endBlock := beginBlock + blockCount
	if beginBlock >= phys.blockCount || endBlock <= beginBlock || endBlock > phys.blockCount {
		phys.dropUses(1)
		r.lc.unlock()
		return ErrInvalidNumber.WithMessage("region outside physical disk")
	}

	slot, err := r.ensureSlot(id)
	if err != nil {
		phys.dropUses(1)
		r.lc.unlock()
		return err
	}
	if slot.Load() != nil {
		phys.dropUses(1)
		r.lc.unlock()
		return ErrResourceInUse.WithMessage(id.String())
	}

	dd := &DiskDevice{
		id:             id,
		name:           name,
		physOwner:      phys,
		startBlock:     beginBlock,
		blockCount:     blockCount,
		blockSize:      phys.blockSize,
		mediaBlockSize: phys.blockSize,
		capabilities:   phys.capabilities,
		ioctl:          phys.ioctl,
		driverData:     phys.driverData,
	}

	if err := r.publishName(dd); err != nil {
		phys.dropUses(1)
		r.lc.unlock()
		return err
	}

	// The reference taken on phys by the lookup above is deliberately kept:
	// it is the logical disk's hold on its physical owner, released by
	// cleanup when the logical disk is freed.
	slot.Store(dd)
	r.lc.unlock()

	return nil
}

func (r *Registry) publishName(dd *DiskDevice) error {
	if dd.name == "" || r.names == nil {
		return nil
	}
	if err := r.names.Publish(dd.name, dd.id); err != nil {
		return ErrUnsatisfied.Wrap(err)
	}
	return nil
}

// Delete logically removes the device at id. A device with no outstanding
// references is freed immediately. A busy device is marked deleted and
// freed by its final Release. Deleting a physical disk cascades over the
// logical disks built on it: idle ones are freed on the spot, busy ones are
// marked deleted and linger until released.
func (r *Registry) Delete(id DeviceID) error {
	if err := r.lc.lock(); err != nil {
		return err
	}

	// This lookup must find devices that are already marked deleted: the
	// final Release of a deleted device re-enters here to complete the
	// deferred free.
	dd := r.lookup(id)
	if dd == nil {
		r.lc.unlock()
		return ErrInvalidID.WithMessage(id.String())
	}

	dd.markDeleted()
	r.cleanup(dd)

	r.lc.unlock()
	return nil
}

// cleanup completes the deletion of a device to whatever extent its
// references allow. Called with the lock held, after the device was marked
// deleted.
func (r *Registry) cleanup(toRemove *DiskDevice) {
	phys := toRemove.physOwner

	if phys.Deleted() {
		// The physical disk is going away. Sweep the table for its logical
		// disks: free the idle ones now, mark the busy ones deleted so
		// their last Release finishes the job. Each freed logical disk
		// gives back the reference it held on the physical disk.
		freed := uint64(0)

		t := r.tab.Load()
		for major := range t.majors {
			mt := t.majors[major].Load()
			if mt == nil {
				continue
			}
			for minor := range mt.slots {
				dd := mt.slots[minor].Load()
				if dd == nil || dd.physOwner != phys || dd == phys {
					continue
				}
				if dd.Uses() == 0 {
					freed++
					mt.slots[minor].Store(nil)
					_ = r.freeDevice(dd)
				} else {
					dd.markDeleted()
				}
			}
		}

		if freed > 0 {
			phys.dropUses(freed)
		}
		if phys.Uses() == 0 {
			r.clearSlot(phys.id)
			_ = r.freeDevice(phys)
		}
	} else if toRemove.Uses() == 0 {
		phys.dropUses(1)
		r.clearSlot(toRemove.id)
		_ = r.freeDevice(toRemove)
	}
}

// freeDevice destroys a descriptor that has been removed from its slot:
// physical-disk drivers are notified (result ignored), the name is
// unpublished. Returns the unpublish error so Shutdown can report it;
// cleanup discards it, matching the fire-and-forget teardown of a normal
// delete.
func (r *Registry) freeDevice(dd *DiskDevice) error {
	if dd.IsPhysical() {
		_ = dd.ioctl(dd, ReqDeleted, nil)
	}
	if dd.name != "" && r.names != nil {
		if err := r.names.Unpublish(dd.name); err != nil {
			return ErrUnsatisfied.WithMessage(dd.name).Wrap(err)
		}
	}
	return nil
}

// Obtain looks up id and returns a referenced descriptor, or nil if no such
// device exists or it has been deleted. The caller must hand the result
// back with Release.
//
// In the common case of no mutation being in flight the lookup is
// lock-free and never blocks, so it is safe from contexts that must not
// sleep. When the protected flag shows a concurrent mutation, Obtain falls
// back to taking the lock. There is a vanishing window in which Obtain can
// reference a device a concurrent cleanup is about to free; the Release
// path tolerates the resulting already-empty slot. See the package
// concurrency notes in lock.go.
func (r *Registry) Obtain(id DeviceID) *DiskDevice {
	if !r.lc.protected.Load() {
		// Frequent and quickest case.
		return r.getDiskEntry(id)
	}

	if err := r.lc.lock(); err != nil {
		return nil
	}
	dd := r.getDiskEntry(id)
	r.lc.unlock()
	return dd
}

// Release hands back a descriptor obtained from Obtain or Next. If this was
// the last reference to a deleted device, the deferred deletion is
// completed here. Release never fails; a completion race against another
// releaser is resolved by the atomic reference drop, so the device is freed
// exactly once.
func (r *Registry) Release(dd *DiskDevice) {
	uses, deleted := dd.releaseRef()
	if uses == 0 && deleted {
		// The slot may already be empty if a concurrent Shutdown got there
		// first; Delete reports that as ErrInvalidID and there is nothing
		// left to do.
		_ = r.Delete(dd.id)
	}
}

// Next returns a referenced descriptor for the first device whose
// identifier is strictly greater than id, scanning minors within majors in
// ascending order, or nil past the last occupied slot. Enumeration starts
// with Next(FirstDeviceID) and continues by passing the previous device's
// ID; each returned descriptor must be handed back with Release.
//
// The lock is not held across calls; each call sees the table as it is at
// that moment, and devices may appear or disappear between calls. Deleted
// devices are skipped. Like Obtain, the scan is lock-free unless a
// mutation is in flight.
func (r *Registry) Next(id DeviceID) *DiskDevice {
	if !r.lc.protected.Load() {
		return r.nextEntry(id)
	}

	if err := r.lc.lock(); err != nil {
		return nil
	}
	dd := r.nextEntry(id)
	r.lc.unlock()
	return dd
}

func (r *Registry) nextEntry(id DeviceID) *DiskDevice {
	t := r.tab.Load()
	if t == nil {
		return nil
	}

	major, minor := (id + 1).Split()
	for ; uint32(len(t.majors)) > major; major, minor = major+1, 0 {
		mt := t.majors[major].Load()
		if mt == nil {
			continue
		}
		for ; uint32(len(mt.slots)) > minor; minor++ {
			dd := mt.slots[minor].Load()
			if dd != nil && dd.acquire() {
				return dd
			}
		}
	}
	return nil
}

// FirstDeviceID is a convenience starting point for enumeration with Next:
// Next(FirstDeviceID) returns the device with the lowest identifier,
// (0, 0) included.
const FirstDeviceID = ^DeviceID(0)
