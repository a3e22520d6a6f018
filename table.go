package diskreg

import "sync/atomic"

// Initial capacity of the major table and of a freshly allocated minor
// table. Minor tables start at more than one slot to amortize the first few
// allocations for a driver class.
const tableInitialSize = 8

// minorTable holds the devices of a single major number, indexed by minor.
// Slots are atomic pointers so the lock-free lookup path never observes a
// torn write.
type minorTable struct {
	slots []atomic.Pointer[DiskDevice]
}

// deviceTable is the major-indexed table of minor tables. Structural growth
// builds a new header and publishes it wholesale; old headers remain valid
// for readers that already loaded them.
type deviceTable struct {
	majors []atomic.Pointer[minorTable]
}

func newDeviceTable(size int) *deviceTable {
	return &deviceTable{majors: make([]atomic.Pointer[minorTable], size)}
}

// ensureSlot grows the table as needed so the slot for id exists, and
// returns it. Growth doubles the affected level, with the requested index
// as a floor, and leaves new capacity empty. Exceeding a configured table
// limit reports ErrOutOfMemory and leaves the table untouched.
//
// Must be called with the registry lock held.
func (r *Registry) ensureSlot(id DeviceID) (*atomic.Pointer[DiskDevice], error) {
	major, minor := id.Split()

	t := r.tab.Load()
	if uint32(len(t.majors)) <= major {
		newSize := 2 * len(t.majors)
		if uint32(newSize) <= major {
			newSize = int(major) + 1
		}
		if r.maxMajors != 0 && uint32(newSize) > r.maxMajors {
			if major >= r.maxMajors {
				return nil, ErrOutOfMemory.WithMessage("major table limit reached")
			}
			newSize = int(r.maxMajors)
		}

		grown := newDeviceTable(newSize)
		for i := range t.majors {
			grown.majors[i].Store(t.majors[i].Load())
		}
		r.tab.Store(grown)
		t = grown
	}

	mt := t.majors[major].Load()
	if mt == nil || uint32(len(mt.slots)) <= minor {
		var newSize int
		if mt == nil {
			newSize = tableInitialSize
		} else {
			newSize = 2 * len(mt.slots)
		}
		if uint32(newSize) <= minor {
			newSize = int(minor) + 1
		}
		if r.maxMinors != 0 && uint32(newSize) > r.maxMinors {
			if minor >= r.maxMinors {
				return nil, ErrOutOfMemory.WithMessage("minor table limit reached")
			}
			newSize = int(r.maxMinors)
		}

		grown := &minorTable{slots: make([]atomic.Pointer[DiskDevice], newSize)}
		if mt != nil {
			for i := range mt.slots {
				grown.slots[i].Store(mt.slots[i].Load())
			}
		}
		t.majors[major].Store(grown)
		mt = grown
	}

	return &mt.slots[minor], nil
}

// lookup returns the device stored at id, or nil if the slot is out of the
// table's current bounds or empty. Deleted devices are still returned; the
// callers that must skip them check the flag themselves.
func (r *Registry) lookup(id DeviceID) *DiskDevice {
	t := r.tab.Load()
	if t == nil {
		return nil
	}

	major, minor := id.Split()
	if uint32(len(t.majors)) <= major {
		return nil
	}
	mt := t.majors[major].Load()
	if mt == nil || uint32(len(mt.slots)) <= minor {
		return nil
	}
	return mt.slots[minor].Load()
}

// clearSlot empties the slot for id. The descriptor itself is the caller's
// to dispose of, under the same lock.
func (r *Registry) clearSlot(id DeviceID) {
	t := r.tab.Load()
	major, minor := id.Split()
	if t == nil || uint32(len(t.majors)) <= major {
		return
	}
	mt := t.majors[major].Load()
	if mt == nil || uint32(len(mt.slots)) <= minor {
		return
	}
	mt.slots[minor].Store(nil)
}
