// Package disks defines device profiles: ready-made descriptions of a disk
// (identifier, geometry, partitions) that tools can use to stand up a
// registry without hand-writing every parameter. A small set of profiles is
// embedded; more can be loaded from CSV.
package disks

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blkdev/diskreg"
	"github.com/gocarina/gocsv"
)

// Profile describes one physical disk and, optionally, the partitions to
// lay out on it.
type Profile struct {
	Name string `csv:"name"`
	Slug string `csv:"slug"`

	Major uint32 `csv:"major"`
	Minor uint32 `csv:"minor"`

	BlockSize  uint32 `csv:"block_size"`
	BlockCount uint64 `csv:"block_count"`

	// Partitions describes the logical disks as semicolon-separated
	// begin:count block ranges, e.g. "0:400;400:600". Empty means none.
	Partitions string `csv:"partitions"`
}

// Partition is one parsed entry of a profile's partition list.
type Partition struct {
	BeginBlock uint64
	BlockCount uint64
}

// DeviceID returns the identifier the physical disk registers under.
func (p *Profile) DeviceID() diskreg.DeviceID {
	return diskreg.NewDeviceID(p.Major, p.Minor)
}

// PartitionList parses the profile's partition column.
func (p *Profile) PartitionList() ([]Partition, error) {
	if p.Partitions == "" {
		return nil, nil
	}

	var parts []Partition
	for _, entry := range strings.Split(p.Partitions, ";") {
		begin, count, found := strings.Cut(entry, ":")
		if !found {
			return nil, fmt.Errorf("malformed partition entry %q in profile %q", entry, p.Slug)
		}
		beginBlock, err := strconv.ParseUint(begin, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad begin block in partition entry %q: %w", entry, err)
		}
		blockCount, err := strconv.ParseUint(count, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad block count in partition entry %q: %w", entry, err)
		}
		parts = append(parts, Partition{BeginBlock: beginBlock, BlockCount: blockCount})
	}
	return parts, nil
}

// Load parses profiles from CSV text.
func Load(csvText string) ([]Profile, error) {
	var profiles []Profile
	if err := gocsv.UnmarshalString(csvText, &profiles); err != nil {
		return nil, fmt.Errorf("failed to decode profile CSV: %w", err)
	}
	return profiles, nil
}

//go:embed profiles.csv
var predefinedRawCSV string
var predefined map[string]Profile

// Predefined returns the embedded profile with the given slug.
func Predefined(slug string) (Profile, error) {
	profile, ok := predefined[slug]
	if ok {
		return profile, nil
	}
	return Profile{}, fmt.Errorf("no predefined device profile exists with slug %q", slug)
}

// List returns every embedded profile, sorted by slug.
func List() []Profile {
	profiles := make([]Profile, 0, len(predefined))
	for _, p := range predefined {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Slug < profiles[j].Slug })
	return profiles
}

func init() {
	profiles, err := Load(predefinedRawCSV)
	if err != nil {
		panic(err)
	}

	predefined = make(map[string]Profile)
	for i, p := range profiles {
		if _, exists := predefined[p.Slug]; exists {
			panic(fmt.Errorf("duplicate profile %q found on row %d", p.Slug, i+1))
		}
		predefined[p.Slug] = p
	}
}
