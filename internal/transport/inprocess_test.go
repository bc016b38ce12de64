package transport_test

import (
	"context"
	"sync"

	"github.com/gcm3d-project/solver/internal/transport"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("InProcessFabric", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("reduces the minimum across ranks", func() {
		fabrics := transport.NewInProcessFabric(4)
		locals := []float32{1.0, 0.5, 0.75, 2.0}

		var wg sync.WaitGroup
		results := make([]float32, 4)
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				defer GinkgoRecover()
				v, err := fabrics[r].AllReduceMin(ctx, locals[r])
				Expect(err).NotTo(HaveOccurred())
				results[r] = v
			}(r)
		}
		wg.Wait()

		for _, v := range results {
			Expect(v).To(Equal(float32(0.5)))
		}
	})

	It("all-gathers variable-length payloads in rank order", func() {
		fabrics := transport.NewInProcessFabric(3)
		payloads := [][]byte{{1}, {2, 2}, {3, 3, 3}}
		counts := []int{1, 2, 3}

		var wg sync.WaitGroup
		gathered := make([][][]byte, 3)
		for r := 0; r < 3; r++ {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				defer GinkgoRecover()
				res, err := fabrics[r].AllGather(ctx, payloads[r], counts)
				Expect(err).NotTo(HaveOccurred())
				gathered[r] = res
			}(r)
		}
		wg.Wait()

		for _, res := range gathered {
			Expect(res).To(HaveLen(3))
			Expect(res[0]).To(Equal([]byte{1}))
			Expect(res[1]).To(Equal([]byte{2, 2}))
			Expect(res[2]).To(Equal([]byte{3, 3, 3}))
		}
	})

	It("delivers a point to point send to a blocking receive", func() {
		fabrics := transport.NewInProcessFabric(2)

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

	It("probes a header from whichever rank sent it first", func() {
		fabrics := transport.NewInProcessFabric(3)

		var wg sync.WaitGroup
		wg.Add(3)

		seen := make(chan int, 2)
		go func() {
			defer wg.Done()
			defer GinkgoRecover()
			for i := 0; i < 2; i++ {
				src, payload, err := fabrics[0].Probe(ctx, 7)
				Expect(err).NotTo(HaveOccurred())
				Expect(payload).To(Equal([]byte("hdr")))
				seen <- src
			}
		}()
		for r := 1; r <= 2; r++ {
			go func(r int) {
				defer wg.Done()
				defer GinkgoRecover()
				p, err := fabrics[r].SendHeader(ctx, 0, 7, []byte("hdr"))
				Expect(err).NotTo(HaveOccurred())
				Expect(fabrics[r].WaitAll(p)).To(Succeed())
			}(r)
		}
		wg.Wait()
		close(seen)

		srcs := map[int]bool{}
		for s := range seen {
			srcs[s] = true
		}
		Expect(srcs).To(HaveLen(2))
	})

	It("keeps barrier reusable across repeated rounds", func() {
		fabrics := transport.NewInProcessFabric(4)

		for round := 0; round < 3; round++ {
			var wg sync.WaitGroup
			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func(r int) {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(fabrics[r].Barrier(ctx)).To(Succeed())
				}(r)
			}
			wg.Wait()
		}
	})
})
