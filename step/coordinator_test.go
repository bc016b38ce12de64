package step_test

import (
	"context"
	"errors"
	"sync"

	"github.com/gcm3d-project/solver/internal/transport"
	"github.com/gcm3d-project/solver/step"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ReduceMaxAdmissibleTau", func() {
	It("settles every rank on the smallest locally-admissible tau", func() {
		fabrics := transport.NewInProcessFabric(3)
		locals := []float32{0.5, 0.2, 0.8}

		results := make([]float32, 3)
		errs := make([]error, 3)
		var wg sync.WaitGroup
		wg.Add(3)
		for r := 0; r < 3; r++ {
			r := r
			go func() {
				defer wg.Done()
				c := step.NewCoordinator(fabrics[r], nil)
				results[r], errs[r] = c.ReduceMaxAdmissibleTau(context.Background(), locals[r])
			}()
		}
		wg.Wait()

		for _, err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
		for _, v := range results {
			Expect(v).To(Equal(float32(0.2)))
		}
	})
})

var _ = Describe("Run", func() {
	It("chains steps, feeding each rank's proposal into the next step's tau", func() {
		fabrics := transport.NewInProcessFabric(2)
		locals := [][]float32{{1.0, 0.5, 0.25}, {0.8, 0.4, 0.2}}

		seenTau := make([][]float32, 2)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		for r := 0; r < 2; r++ {
			r := r
			go func() {
				defer wg.Done()
				c := step.NewCoordinator(fabrics[r], nil)
				errs[r] = c.Run(context.Background(), 3, func(_ context.Context, i int, tau float32) (float32, error) {
					seenTau[r] = append(seenTau[r], tau)
					return locals[r][i], nil
				})
			}()
		}
		wg.Wait()

		for _, err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(seenTau[0]).To(Equal([]float32{0, 0.8, 0.4}))
		Expect(seenTau[1]).To(Equal([]float32{0, 0.8, 0.4}))
	})

	It("terminates collectively when a step function asks to abort", func() {
		fabrics := transport.NewInProcessFabric(2)

		errs := make([]error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		for r := 0; r < 2; r++ {
			r := r
			go func() {
				defer wg.Done()
				c := step.NewCoordinator(fabrics[r], nil)
				errs[r] = c.Run(context.Background(), 5, func(_ context.Context, i int, tau float32) (float32, error) {
					if i == 1 {
						return 0, step.ErrTerminated
					}
					return 1, nil
				})
			}()
		}
		wg.Wait()

		for _, err := range errs {
			Expect(errors.Is(err, step.ErrTerminated)).To(BeTrue())
		}
	})
})
