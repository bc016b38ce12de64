package layout_test

import (
	"github.com/gcm3d-project/solver/layout"
	"github.com/gcm3d-project/solver/mesh"
	"github.com/gcm3d-project/solver/zone"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Registry", func() {
	It("commits and retains node-pair descriptors for an intra-process pairing", func() {
		zones, err := zone.NewMap([]int{0, 0}, 1)
		Expect(err).NotTo(HaveOccurred())

		set := mesh.NewSet()
		set.Put(&mesh.Mesh{ZoneID: 0, Nodes: []mesh.Node{
			{LocalID: 0, LocalZoneID: 0, Placement: mesh.Remote, RemoteZoneID: 1, RemoteLocalID: 5},
		}})
		set.Put(&mesh.Mesh{ZoneID: 1, Nodes: make([]mesh.Node, 6)})

		table, toSend, err := layout.ScanLocalPairs(set, zones, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(toSend).To(BeEmpty())

		r := layout.NewRegistry()
		r.BuildNodePairDescriptors(table)

		recv, ok := r.RecvDescriptor(0, 1)
		Expect(ok).To(BeTrue())
		Expect(recv.Indices).To(Equal([]int{0}))

		send, ok := r.SendDescriptor(0, 1)
		Expect(ok).To(BeTrue())
		Expect(send.Indices).To(Equal([]int{5}))
	})

	It("tracks transient descriptors and reports no leak once released", func() {
		r := layout.NewRegistry()
		Expect(r.OpenTransientCount()).To(Equal(0))

		d := r.BuildIndexed(layout.NumberedFaceRecord, []int{1, 2, 3})
		Expect(r.OpenTransientCount()).To(Equal(1))

		r.Release(d)
		Expect(r.OpenTransientCount()).To(Equal(0))
	})
})
