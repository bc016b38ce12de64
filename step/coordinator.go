// Package step implements the StepCoordinator: the two collective
// operations that bound every time-step (spec.md §4.4) plus a
// convenience loop (exchange/driver-only) that chains them into a run.
//
// Grounded on the teacher's api.Driver.Run() for the "execute queued
// work, one tick at a time" shape; the collectives themselves come
// straight from transport.Fabric.
package step

import (
	"context"
	"errors"

	"github.com/gcm3d-project/solver/internal/transport"

	"github.com/sirupsen/logrus"
)

// ErrTerminated is returned by Terminate and by Run when a step function
// requests a collective abort. Callers translate it into the TERMINATED
// exit code of spec.md §6.
var ErrTerminated = errors.New("gcm3d: terminated")

// Coordinator is the StepCoordinator: one per process, wrapping the
// fabric every rank shares.
type Coordinator struct {
	Fabric transport.Fabric
	Log    *logrus.Entry
}

// NewCoordinator returns a ready-to-use Coordinator.
func NewCoordinator(fabric transport.Fabric, log *logrus.Entry) *Coordinator {
	return &Coordinator{Fabric: fabric, Log: log}
}

// ReduceMaxAdmissibleTau is reduce_max_admissible_tau of spec.md §4.4: a
// barrier for clean phase separation, then an all-reduce under MIN, so
// every rank settles on the smallest locally-admissible step size.
func (c *Coordinator) ReduceMaxAdmissibleTau(ctx context.Context, localTau float32) (float32, error) {
	if err := c.Fabric.Barrier(ctx); err != nil {
		return 0, err
	}
	return c.Fabric.AllReduceMin(ctx, localTau)
}

// Terminate is terminate() of spec.md §4.4: a collective abort. Every
// rank must call it (directly, or by a step function returning
// ErrTerminated from within Run) for the fleet to unwind cleanly — a
// barrier here stands in for the original's broadcast, since every rank
// already agrees it is terminating by the time it calls this.
func (c *Coordinator) Terminate(ctx context.Context) error {
	if err := c.Fabric.Barrier(ctx); err != nil {
		return err
	}
	return ErrTerminated
}

// StepFunc advances one zone shard by one step given the fleet-wide tau
// chosen for the previous step (0 on the first call), and returns the
// locally-admissible tau it proposes for the next one.
type StepFunc func(ctx context.Context, step int, tau float32) (localTau float32, err error)

// Run is the driver convenience loop [EXPANSION]: it calls fn once per
// step, feeds its proposal through ReduceMaxAdmissibleTau, and hands the
// agreed tau to the next call. fn may return ErrTerminated to request a
// collective abort; Run then calls Terminate itself so every rank still
// observes the same barrier before unwinding.
func (c *Coordinator) Run(ctx context.Context, steps int, fn StepFunc) error {
	var tau float32
	for i := 0; i < steps; i++ {
		localTau, err := fn(ctx, i, tau)
		if errors.Is(err, ErrTerminated) {
			return c.Terminate(ctx)
		}
		if err != nil {
			return err
		}

		tau, err = c.ReduceMaxAdmissibleTau(ctx, localTau)
		if err != nil {
			return err
		}

		if c.Log != nil {
			c.Log.WithFields(logrus.Fields{"step": i, "tau": tau}).Debug("step complete")
		}
	}
	return nil
}
