package transport_test

import (
	"context"
	"net"
	"sync"

	"github.com/gcm3d-project/solver/internal/transport"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// freeAddrs reserves n distinct "127.0.0.1:port" addresses by briefly
// binding and releasing a listener on each — the port is free again by
// the time DialFabric re-binds it a few microseconds later, which is
// good enough for a local test harness, not a production allocator.
func freeAddrs(n int) []string {
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addrs[i] = ln.Addr().String()
		Expect(ln.Close()).To(Succeed())
	}
	return addrs
}

func dialAll(peers []string) []transport.Fabric {
	world := len(peers)
	fabrics := make([]transport.Fabric, world)
	errs := make([]error, world)

	var wg sync.WaitGroup
	for r := 0; r < world; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := transport.DialFabric(context.Background(), transport.NetworkConfig{Rank: r, Peers: peers})
			fabrics[r] = f
			errs[r] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		Expect(err).NotTo(HaveOccurred())
	}
	return fabrics
}

var _ = Describe("NetworkFabric", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("establishes a full TCP mesh and reduces the minimum across ranks", func() {
		peers := freeAddrs(3)
		fabrics := dialAll(peers)
		defer func() {
			for _, f := range fabrics {
				_ = f.Close()
			}
		}()

		locals := []float32{2.0, 0.5, 1.5}
		var wg sync.WaitGroup
		results := make([]float32, 3)
		for r := 0; r < 3; r++ {
			r := r
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				v, err := fabrics[r].AllReduceMin(ctx, locals[r])
				Expect(err).NotTo(HaveOccurred())
				results[r] = v
			}()
		}
		wg.Wait()

		for _, v := range results {
			Expect(v).To(Equal(float32(0.5)))
		}
	})

	It("all-gathers variable-length payloads in rank order over real connections", func() {
		peers := freeAddrs(3)
		fabrics := dialAll(peers)
		defer func() {
			for _, f := range fabrics {
				_ = f.Close()
			}
		}()

		payloads := [][]byte{{1}, {2, 2}, {3, 3, 3}}
		counts := []int{1, 2, 3}

		var wg sync.WaitGroup
		gathered := make([][][]byte, 3)
		for r := 0; r < 3; r++ {
			r := r
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				res, err := fabrics[r].AllGather(ctx, payloads[r], counts)
				Expect(err).NotTo(HaveOccurred())
				gathered[r] = res
			}()
		}
		wg.Wait()

		for _, res := range gathered {
			Expect(res).To(HaveLen(3))
			Expect(res[0]).To(Equal([]byte{1}))
			Expect(res[1]).To(Equal([]byte{2, 2}))
			Expect(res[2]).To(Equal([]byte{3, 3, 3}))
		}
	})

	It("delivers a point-to-point send to a blocking receive over TCP", func() {
		peers := freeAddrs(2)
		fabrics := dialAll(peers)
		defer func() {
			for _, f := range fabrics {
				_ = f.Close()
			}
		}()

		var wg sync.WaitGroup
		wg.Add(2)

		var received []byte
		go func() {
			defer wg.Done()
			defer GinkgoRecover()
			b, err := fabrics[1].Recv(ctx, 0, 42)
			Expect(err).NotTo(HaveOccurred())
			received = b
		}()
		go func() {
			defer wg.Done()
			defer GinkgoRecover()
			pending, err := fabrics[0].Send(ctx, 1, 42, []byte("hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(fabrics[0].WaitAll(pending)).To(Succeed())
		}()
		wg.Wait()

		Expect(received).To(Equal([]byte("hello")))
	})

	It("keeps the barrier reusable across repeated rounds", func() {
		peers := freeAddrs(4)
		fabrics := dialAll(peers)
		defer func() {
			for _, f := range fabrics {
				_ = f.Close()
			}
		}()

		for round := 0; round < 3; round++ {
			var wg sync.WaitGroup
			for r := 0; r < 4; r++ {
				r := r
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(fabrics[r].Barrier(ctx)).To(Succeed())
				}()
			}
			wg.Wait()
		}
	})
})
