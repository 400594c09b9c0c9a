package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/didware/did-engine/internal/domain"
)

// Outcome is the terminal result of one batch item. ID echoes the submitted
// identifier (NPA or DID); MSISDN and Country are filled once provisioning
// resolves them.
type Outcome struct {
	ID      string
	Status  domain.ItemStatus
	Detail  string
	MSISDN  string
	Country domain.Country
}

// RunWaves executes worker over items in consecutive waves of at most
// maxConcurrency, waiting for the whole wave before starting the next one and
// sleeping interWaveDelay between waves, never after the last. The returned
// slice preserves submission order; each slot is written exactly once by the
// goroutine that owns it. A panicking worker is converted into a failed
// outcome for its own item and never aborts the wave.
func RunWaves[T any](ctx context.Context, items []T, worker func(context.Context, T) Outcome, maxConcurrency int, interWaveDelay time.Duration, sleep func(time.Duration)) []Outcome {
	if len(items) == 0 {
		return nil
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if sleep == nil {
		sleep = time.Sleep
	}

	outcomes := make([]Outcome, len(items))
	for start := 0; start < len(items); start += maxConcurrency {
		end := min(start+maxConcurrency, len(items))

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				outcomes[i] = runWorker(ctx, items[i], worker)
				return nil
			})
		}
		_ = g.Wait()

		if end < len(items) && interWaveDelay > 0 {
			sleep(interWaveDelay)
		}
	}

	return outcomes
}

func runWorker[T any](ctx context.Context, item T, worker func(context.Context, T) Outcome) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{
				Status: domain.StatusFailed,
				Detail: fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	return worker(ctx, item)
}
