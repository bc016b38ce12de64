package layout_test

import (
	"context"
	"sync"

	"github.com/gcm3d-project/solver/internal/transport"
	"github.com/gcm3d-project/solver/layout"
	"github.com/gcm3d-project/solver/mesh"
	"github.com/gcm3d-project/solver/zone"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PairIndexTable setup", func() {
	It("gives both owners the same index list for a cross-process pairing", func() {
		// Two ranks, two zones: zone 0 -> rank 0, zone 1 -> rank 1. Zone 0
		// holds five REMOTE nodes pointing at local ids [3,7,11,19,23] of
		// zone 1, mirroring spec.md §8 scenario 1.
		zones, err := zone.NewMap([]int{0, 1}, 2)
		Expect(err).NotTo(HaveOccurred())

		ghostLocalIDs := []int{0, 1, 2, 3, 4}
		remoteLocalIDs := []int{3, 7, 11, 19, 23}

		set0 := mesh.NewSet()
		nodes := make([]mesh.Node, len(ghostLocalIDs))
		for i, lid := range ghostLocalIDs {
			nodes[i] = mesh.Node{
				LocalID: lid, LocalZoneID: 0,
				Placement: mesh.Remote, RemoteZoneID: 1, RemoteLocalID: remoteLocalIDs[i],
			}
		}
		set0.Put(&mesh.Mesh{ZoneID: 0, Nodes: nodes})

		set1 := mesh.NewSet()
		set1.Put(&mesh.Mesh{ZoneID: 1, Nodes: make([]mesh.Node, 24)})

		fabrics := transport.NewInProcessFabric(2)

		var wg sync.WaitGroup
		wg.Add(2)

		var table0, table1 *layout.PairIndexTable
		var err0, err1 error

		go func() {
			defer wg.Done()
			var toSend []layout.Outgoing
			table0, toSend, err0 = layout.ScanLocalPairs(set0, zones, 0)
			if err0 != nil {
				return
			}
			err0 = layout.SetupExchange(context.Background(), fabrics[0], zones, table0, toSend)
		}()

		go func() {
			defer wg.Done()
			var toSend []layout.Outgoing
			table1, toSend, err1 = layout.ScanLocalPairs(set1, zones, 1)
			if err1 != nil {
				return
			}
			err1 = layout.SetupExchange(context.Background(), fabrics[1], zones, table1, toSend)
		}()

		wg.Wait()
		Expect(err0).NotTo(HaveOccurred())
		Expect(err1).NotTo(HaveOccurred())

		r0 := layout.NewRegistry()
		r0.BuildNodePairDescriptors(table0)
		recv, ok := r0.RecvDescriptor(0, 1)
		Expect(ok).To(BeTrue())
		Expect(recv.Indices).To(Equal(ghostLocalIDs))

		r1 := layout.NewRegistry()
		r1.BuildNodePairDescriptors(table1)
		send, ok := r1.SendDescriptor(0, 1)
		Expect(ok).To(BeTrue())
		Expect(send.Indices).To(Equal(remoteLocalIDs))
	})
})
