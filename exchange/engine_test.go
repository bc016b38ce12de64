package exchange_test

import (
	"context"
	"sync"

	"github.com/gcm3d-project/solver/collision"
	"github.com/gcm3d-project/solver/exchange"
	"github.com/gcm3d-project/solver/internal/transport"
	"github.com/gcm3d-project/solver/layout"
	"github.com/gcm3d-project/solver/mesh"
	"github.com/gcm3d-project/solver/zone"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fixture is a two-rank, two-zone layout: zone 0 owned by rank 0, zone 1
// owned by rank 1, zone 0 holding one ghost node pointing at zone 1's
// node index 2. Mirrors spec.md §8 scenario 1's shape, extended with a
// border face and a tetrahedron on zone 1 so face/tetr halo sync has
// something to fetch.
type fixture struct {
	zones            *zone.Map
	fabrics          []transport.Fabric
	set0, set1       *mesh.Set
	engine0, engine1 *exchange.Engine
}

func newFixture() *fixture {
	zones, err := zone.NewMap([]int{0, 1}, 2)
	Expect(err).NotTo(HaveOccurred())

	set0 := mesh.NewSet()
	set0.Put(&mesh.Mesh{
		ZoneID: 0,
		Nodes: []mesh.Node{
			{LocalID: 0, LocalZoneID: 0, Placement: mesh.Remote, RemoteZoneID: 1, RemoteLocalID: 2},
		},
		Outline: mesh.Outline{Min: [3]float32{0, 0, 0}, Max: [3]float32{10, 10, 10}},
	})

	set1 := mesh.NewSet()
	set1.Put(&mesh.Mesh{
		ZoneID: 1,
		Nodes: []mesh.Node{
			{LocalID: 0, Placement: mesh.Local, Coords: [3]float32{1, 1, 1}},
			{LocalID: 1, Placement: mesh.Local, Coords: [3]float32{2, 2, 2}},
			{LocalID: 2, Placement: mesh.Local, Coords: [3]float32{3, 3, 3}, Values: [mesh.NumValues]float32{1: 42}},
			{LocalID: 3, Placement: mesh.Local, Coords: [3]float32{4, 4, 4}},
		},
		Border:     []mesh.Face{{LocalID: 7, Vertices: [3]int{0, 1, 2}}},
		Tetrahedra: []mesh.Tetrahedron{{LocalID: 9, Vertices: [4]int{0, 1, 2, 3}}},
		Incident:   [][]int{{0}, {0}, {0}, {0}},
		Outline:    mesh.Outline{Min: [3]float32{1, 1, 1}, Max: [3]float32{15, 15, 15}},
	})

	fabrics := transport.NewInProcessFabric(2)

	registry0 := layout.NewRegistry()
	registry1 := layout.NewRegistry()

	var wg sync.WaitGroup
	wg.Add(2)
	var err0, err1 error
	go func() {
		defer wg.Done()
		table, toSend, e := layout.ScanLocalPairs(set0, zones, 0)
		if e != nil {
			err0 = e
			return
		}
		if e := layout.SetupExchange(context.Background(), fabrics[0], zones, table, toSend); e != nil {
			err0 = e
			return
		}
		registry0.BuildNodePairDescriptors(table)
	}()
	go func() {
		defer wg.Done()
		table, toSend, e := layout.ScanLocalPairs(set1, zones, 1)
		if e != nil {
			err1 = e
			return
		}
		if e := layout.SetupExchange(context.Background(), fabrics[1], zones, table, toSend); e != nil {
			err1 = e
			return
		}
		registry1.BuildNodePairDescriptors(table)
	}()
	wg.Wait()
	Expect(err0).NotTo(HaveOccurred())
	Expect(err1).NotTo(HaveOccurred())

	log := logrus.NewEntry(logrus.New())
	detector := collision.NewAABBDetector()

	return &fixture{
		zones:   zones,
		fabrics: fabrics,
		set0:    set0,
		set1:    set1,
		engine0: exchange.NewEngine(zones, registry0, fabrics[0], detector, set0, log),
		engine1: exchange.NewEngine(zones, registry1, fabrics[1], detector, set1, log),
	}
}

// runBoth calls f0 on engine0 and f1 on engine1 concurrently, since both
// sides of every sync call block on shared barriers/probes.
func runBoth(f0, f1 func() error) (error, error) {
	var wg sync.WaitGroup
	wg.Add(2)
	var err0, err1 error
	go func() { defer wg.Done(); err0 = f0() }()
	go func() { defer wg.Done(); err1 = f1() }()
	wg.Wait()
	return err0, err1
}

var _ = Describe("SyncNodes", func() {
	It("copies the authoritative node's state into the ghost across processes", func() {
		fx := newFixture()
		ctx := context.Background()

		err0, err1 := runBoth(
			func() error { return fx.engine0.SyncNodes(ctx) },
			func() error { return fx.engine1.SyncNodes(ctx) },
		)
		Expect(err0).NotTo(HaveOccurred())
		Expect(err1).NotTo(HaveOccurred())

		ghost := fx.set0.Mesh(0).Nodes[0]
		Expect(ghost.Coords).To(Equal([3]float32{3, 3, 3}))
		Expect(ghost.Values[1]).To(Equal(float32(42)))
	})
})

var _ = Describe("SyncOutlines", func() {
	It("all-gathers every zone's outline to every process", func() {
		fx := newFixture()
		ctx := context.Background()

		err0, err1 := runBoth(
			func() error { return fx.engine0.SyncOutlines(ctx) },
			func() error { return fx.engine1.SyncOutlines(ctx) },
		)
		Expect(err0).NotTo(HaveOccurred())
		Expect(err1).NotTo(HaveOccurred())

		Expect(fx.set0.Mesh(1)).NotTo(BeNil())
		Expect(fx.set0.Mesh(1).Outline).To(Equal(mesh.Outline{Min: [3]float32{1, 1, 1}, Max: [3]float32{15, 15, 15}}))
		Expect(fx.set1.Mesh(0).Outline).To(Equal(mesh.Outline{Min: [3]float32{0, 0, 0}, Max: [3]float32{10, 10, 10}}))
	})
})

var _ = Describe("SyncFacesInIntersection", func() {
	It("fetches the owning zone's border faces and incident nodes inside the overlap", func() {
		fx := newFixture()
		ctx := context.Background()

		// Outlines must already be known (sync_outlines runs ahead of
		// sync_faces_in_intersection, spec.md §4.3) before the overlap
		// test below has anything to compare against.
		err0, err1 := runBoth(
			func() error { return fx.engine0.SyncOutlines(ctx) },
			func() error { return fx.engine1.SyncOutlines(ctx) },
		)
		Expect(err0).NotTo(HaveOccurred())
		Expect(err1).NotTo(HaveOccurred())

		err0, err1 = runBoth(
			func() error { return fx.engine0.SyncFacesInIntersection(ctx) },
			func() error { return fx.engine1.SyncFacesInIntersection(ctx) },
		)
		Expect(err0).NotTo(HaveOccurred())
		Expect(err1).NotTo(HaveOccurred())

		remote := fx.set0.Mesh(1)
		Expect(remote).NotTo(BeNil())
		Expect(remote.Border).To(HaveLen(1))
		Expect(remote.Border[0].LocalID).To(Equal(7))
		Expect(remote.Nodes).NotTo(BeEmpty())

		Expect(fx.engine0.Registry.OpenTransientCount()).To(Equal(0))
		Expect(fx.engine1.Registry.OpenTransientCount()).To(Equal(0))
	})

	It("fetches nothing when the two zones' outlines do not overlap", func() {
		fx := newFixture()
		fx.set1.Mesh(1).Outline = mesh.Outline{Min: [3]float32{100, 100, 100}, Max: [3]float32{110, 110, 110}}
		ctx := context.Background()

		err0, err1 := runBoth(
			func() error { return fx.engine0.SyncOutlines(ctx) },
			func() error { return fx.engine1.SyncOutlines(ctx) },
		)
		Expect(err0).NotTo(HaveOccurred())
		Expect(err1).NotTo(HaveOccurred())

		err0, err1 = runBoth(
			func() error { return fx.engine0.SyncFacesInIntersection(ctx) },
			func() error { return fx.engine1.SyncFacesInIntersection(ctx) },
		)
		Expect(err0).NotTo(HaveOccurred())
		Expect(err1).NotTo(HaveOccurred())

		Expect(fx.set0.Mesh(1).Border).To(BeEmpty())
	})
})

var _ = Describe("SyncTetrs", func() {
	It("expands a requested face into its incident tetrahedra and nodes", func() {
		fx := newFixture()
		ctx := context.Background()

		virtNodes := []mesh.Node{
			{LocalZoneID: 0, RemoteZoneID: 1, RemoteLocalID: 0},
		}

		err0, err1 := runBoth(
			func() error { return fx.engine0.SyncTetrs(ctx, virtNodes) },
			func() error { return fx.engine1.SyncTetrs(ctx, nil) },
		)
		Expect(err0).NotTo(HaveOccurred())
		Expect(err1).NotTo(HaveOccurred())

		remote := fx.set0.Mesh(1)
		Expect(remote).NotTo(BeNil())
		Expect(remote.Tetrahedra).To(HaveLen(1))
		Expect(remote.Tetrahedra[0].LocalID).To(Equal(9))
		Expect(remote.Nodes).To(HaveLen(4))

		Expect(fx.engine0.Registry.OpenTransientCount()).To(Equal(0))
		Expect(fx.engine1.Registry.OpenTransientCount()).To(Equal(0))
	})
})
