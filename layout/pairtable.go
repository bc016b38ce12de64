package layout

import (
	"context"
	"encoding/binary"

	"github.com/gcm3d-project/solver/internal/gcmerr"
	"github.com/gcm3d-project/solver/internal/transport"
	"github.com/gcm3d-project/solver/mesh"
	"github.com/gcm3d-project/solver/zone"
)

// SetupTag is the header tag the PairIndexTable symmetry exchange uses.
// Reserved out of the exchange package's per-pair tag space (spec.md §4.2).
const SetupTag transport.Tag = -1

// PairIndexTable holds local_numbers/remote_numbers of spec.md §3, split
// by which side of the pairing this process fills without help:
//
//   - Ghost[i,j]: zone i's own ghost indices pointing at zone j, known
//     purely from a local scan of zone i's nodes (spec.md's local_numbers).
//   - Source[i,j]: the indices into zone j's own array that supply those
//     ghosts, known locally if this process also owns j, otherwise learned
//     from the owner of i during setup (spec.md's remote_numbers, read as
//     local_numbers[j][i] on the receiving side).
type PairIndexTable struct {
	Ghost  map[Pair][]int
	Source map[Pair][]int
}

func newPairIndexTable() *PairIndexTable {
	return &PairIndexTable{
		Ghost:  make(map[Pair][]int),
		Source: make(map[Pair][]int),
	}
}

// Outgoing is one (i, j) row this process must ship to the owner of j:
// the remote_local_id values of zone i's ghosts, which become indices
// into zone j's array once they arrive.
type Outgoing struct {
	key     Pair
	indices []int
}

// ScanLocalPairs walks every zone this process owns and fills Ghost plus,
// for intra-process pairings, Source directly. It also returns the rows
// that must be shipped to a remote owner of j during SetupExchange.
func ScanLocalPairs(set *mesh.Set, zones *zone.Map, selfRank int) (*PairIndexTable, []Outgoing, error) {
	table := newPairIndexTable()
	var toSend []Outgoing

	for _, i := range zones.ZonesOwnedBy(selfRank) {
		m := set.Mesh(i)
		if m == nil {
			continue
		}
		var ghost, source map[int][]int = make(map[int][]int), make(map[int][]int)
		for _, n := range m.Nodes {
			if n.Placement != mesh.Remote {
				continue
			}
			j := n.RemoteZoneID
			ghost[j] = append(ghost[j], n.LocalID)
			source[j] = append(source[j], n.RemoteLocalID)
		}
		for j, idx := range ghost {
			k := Pair{i, j}
			table.Ghost[k] = idx

			ownerJ, err := zones.Owner(j)
			if err != nil {
				return nil, nil, err
			}
			if ownerJ == selfRank {
				table.Source[k] = source[j]
				continue
			}
			toSend = append(toSend, Outgoing{key: k, indices: source[j]})
		}
	}
	return table, toSend, nil
}

// SetupExchange is the PairIndexTable symmetry setup protocol of spec.md
// §4.2: every owner of i ships remote_numbers[i][j] to the owner of j, who
// folds it into its own Source row. The original's drain loop (a bare
// Iprobe right after a barrier) races against in-flight sends; this
// implementation closes that race with an AllGather announcing, up
// front, exactly which (i, j) rows every rank will send, so each receiver
// knows precisely how many headers to drain rather than guessing from
// probe timing.
func SetupExchange(ctx context.Context, fabric transport.Fabric, zones *zone.Map, table *PairIndexTable, toSend []Outgoing) error {
	self := fabric.Rank()
	world := fabric.WorldSize()

	// Announce, as a flat (i, j, count) triple list, exactly which rows
	// this rank will ship. Two AllGather rounds: first each rank's
	// announcement byte length, so every rank can agree on the counts
	// AllGather requires; then the announcements themselves. From the
	// union of every rank's announcement, each rank computes precisely
	// how many headers address it before entering the drain loop below,
	// closing the race the original's bare Iprobe-after-barrier left open.
	announce := make([]byte, 0, len(toSend)*12)
	for _, o := range toSend {
		announce = appendUint32(announce, uint32(o.key.I))
		announce = appendUint32(announce, uint32(o.key.J))
		announce = appendUint32(announce, uint32(len(o.indices)))
	}

	lenCounts := make([]int, world)
	for r := range lenCounts {
		lenCounts[r] = 4
	}
	lenPayload := appendUint32(nil, uint32(len(announce)))
	gatheredLens, err := fabric.AllGather(ctx, lenPayload, lenCounts)
	if err != nil {
		return err
	}

	announceCounts := make([]int, world)
	for r, payload := range gatheredLens {
		announceCounts[r] = int(binary.LittleEndian.Uint32(payload))
	}
	gatheredAnnounce, err := fabric.AllGather(ctx, announce, announceCounts)
	if err != nil {
		return err
	}

	expected := 0
	for r, payload := range gatheredAnnounce {
		if r == self {
			continue
		}
		for off := 0; off < len(payload); off += 12 {
			j := int(binary.LittleEndian.Uint32(payload[off+4 : off+8]))
			ownerJ, err := zones.Owner(j)
			if err != nil {
				return err
			}
			if ownerJ == self {
				expected++
			}
		}
	}

	// Header and indices travel in one SendHeader message rather than a
	// separate header-then-payload pair: a header and its row share no
	// ordering guarantee against a second row's header queued behind it
	// on the same (sender, receiver, tag) triple once posting is
	// asynchronous, so binding count/i/j to its own row in a single
	// message is what actually keeps them paired correctly.
	var pending []*transport.PendingSend
	for _, o := range toSend {
		ownerJ, err := zones.Owner(o.key.J)
		if err != nil {
			return err
		}
		msg := appendUint32(nil, uint32(len(o.indices)))
		msg = appendUint32(msg, uint32(o.key.I))
		msg = appendUint32(msg, uint32(o.key.J))
		for _, v := range o.indices {
			msg = appendUint32(msg, uint32(v))
		}

		p, err := fabric.SendHeader(ctx, ownerJ, SetupTag, msg)
		if err != nil {
			return err
		}
		pending = append(pending, p)
	}

	if err := fabric.Barrier(ctx); err != nil {
		return err
	}

	received := 0
	for received < expected {
		_, msg, err := fabric.Probe(ctx, SetupTag)
		if err != nil {
			return err
		}
		if len(msg) < 12 {
			return gcmerr.Wrap(gcmerr.ProtocolDesync, "setup: malformed header")
		}
		count := int(binary.LittleEndian.Uint32(msg[0:4]))
		i := int(binary.LittleEndian.Uint32(msg[4:8]))
		j := int(binary.LittleEndian.Uint32(msg[8:12]))
		if len(msg) != 12+count*4 {
			return gcmerr.Wrap(gcmerr.DescriptorMismatch, "setup: index-count header disagrees with payload")
		}
		idx := make([]int, count)
		for n := 0; n < count; n++ {
			idx[n] = int(binary.LittleEndian.Uint32(msg[12+n*4:]))
		}
		table.Source[Pair{i, j}] = idx
		received++
	}

	if err := fabric.WaitAll(pending...); err != nil {
		return err
	}
	return fabric.Barrier(ctx)
}
