// Package zone implements the ZoneMap: the immutable, fleet-wide mapping
// from zone identifier to owning process rank consulted read-only by every
// phase of the exchange core.
package zone

import (
	"fmt"
	"sort"

	"github.com/gcm3d-project/solver/internal/gcmerr"
	"gopkg.in/yaml.v3"
)

// Map is the immutable zone_id -> process_rank table. Total order of zones
// is by zone id. Queries outside [0, N) fail with gcmerr.UnknownZone.
type Map struct {
	owners []int // owners[zoneID] = rank
}

// NewMap builds a Map from an explicit owners slice, owners[z] being the
// rank that owns zone z. worldSize bounds the ranks accepted.
func NewMap(owners []int, worldSize int) (*Map, error) {
	for z, r := range owners {
		if r < 0 || r >= worldSize {
			return nil, fmt.Errorf("zone %d: rank %d out of range [0, %d)", z, r, worldSize)
		}
	}
	cp := make([]int, len(owners))
	copy(cp, owners)
	return &Map{owners: cp}, nil
}

// assignment mirrors the YAML shape `zone_id: rank`.
type assignment map[int]int

// LoadMap parses a zone_id -> rank assignment from YAML data and validates
// it covers [0, N) with no gaps and every rank in [0, worldSize).
func LoadMap(data []byte, worldSize int) (*Map, error) {
	var a assignment
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse zone map: %w", err)
	}

	ids := make([]int, 0, len(a))
	for z := range a {
		ids = append(ids, z)
	}
	sort.Ints(ids)
	for i, z := range ids {
		if z != i {
			return nil, fmt.Errorf("zone map has a gap: expected zone %d, found %d", i, z)
		}
	}

	owners := make([]int, len(ids))
	for z, rank := range a {
		owners[z] = rank
	}
	return NewMap(owners, worldSize)
}

// Owner returns the rank owning zoneID.
func (m *Map) Owner(zoneID int) (int, error) {
	if zoneID < 0 || zoneID >= len(m.owners) {
		return 0, fmt.Errorf("zone %d: %w", zoneID, gcmerr.UnknownZone)
	}
	return m.owners[zoneID], nil
}

// IsLocal reports whether zoneID is owned by selfRank.
func (m *Map) IsLocal(zoneID, selfRank int) (bool, error) {
	owner, err := m.Owner(zoneID)
	if err != nil {
		return false, err
	}
	return owner == selfRank, nil
}

// Zones returns every zone id, in ascending order.
func (m *Map) Zones() []int {
	zones := make([]int, len(m.owners))
	for z := range m.owners {
		zones[z] = z
	}
	return zones
}

// ZonesOwnedBy returns, in ascending order, every zone id owned by rank.
func (m *Map) ZonesOwnedBy(rank int) []int {
	var zones []int
	for z, r := range m.owners {
		if r == rank {
			zones = append(zones, z)
		}
	}
	return zones
}

// Len returns the total number of zones.
func (m *Map) Len() int {
	return len(m.owners)
}
