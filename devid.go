package diskreg

import "fmt"

// DeviceID is a combined device identifier. The major number selects a driver
// class, the minor number an instance within that class. The packing is an
// implementation detail; everything else in this module goes through
// NewDeviceID and Split.
type DeviceID uint64

const minorBits = 32
const minorMask = DeviceID(1)<<minorBits - 1

// NewDeviceID combines a major/minor pair into a single identifier.
func NewDeviceID(major, minor uint32) DeviceID {
	return DeviceID(major)<<minorBits | DeviceID(minor)
}

// Major returns the driver-class component of the identifier.
func (id DeviceID) Major() uint32 {
	return uint32(id >> minorBits)
}

// Minor returns the instance component of the identifier.
func (id DeviceID) Minor() uint32 {
	return uint32(id & minorMask)
}

// Split returns both components at once.
func (id DeviceID) Split() (major, minor uint32) {
	return id.Major(), id.Minor()
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%d:%d", id.Major(), id.Minor())
}
