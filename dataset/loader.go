package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// Loader prefetches collated batches in the background. Indices are
// sampled with replacement, so the stream never ends; training stops by
// iteration count, not by epoch.
type Loader struct {
	needle    *NeedleDataset
	batchSize int
	seed      int64

	batches chan Batch
	cancel  context.CancelFunc
	group   *errgroup.Group

	// synchronous fallback when num_workers is zero
	rng *rand.Rand
}

// NewLoader starts numWorkers prefetch goroutines. With numWorkers == 0
// batches are built inline on Next, which keeps single-threaded runs
// fully deterministic.
func NewLoader(needle *NeedleDataset, batchSize, numWorkers int, seed int64) *Loader {
	l := &Loader{
		needle:    needle,
		batchSize: batchSize,
		seed:      seed,
	}

	if numWorkers == 0 {
		l.rng = rand.New(rand.NewSource(seed))
		return l
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.batches = make(chan Batch, 2*numWorkers)

	l.group, ctx = errgroup.WithContext(ctx)
	for worker := 0; worker < numWorkers; worker++ {
		rng := rand.New(rand.NewSource(seed + int64(worker)))
		l.group.Go(func() error {
			for {
				batch, err := l.sample(rng)
				if err != nil {
					return err
				}

				select {
				case l.batches <- batch:
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	return l
}

// Next returns the next batch, blocking until one is ready.
func (l *Loader) Next(ctx context.Context) (Batch, error) {
	if l.batches == nil {
		return l.sample(l.rng)
	}

	select {
	case batch := <-l.batches:
		return batch, nil
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	}
}

// Close stops the prefetch workers and reports the first worker error.
func (l *Loader) Close() error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()

	err := l.group.Wait()
	close(l.batches)
	return err
}

func (l *Loader) sample(rng *rand.Rand) (Batch, error) {
	samples := make([]Sample, l.batchSize)
	for i := range samples {
		idx := rng.Intn(l.needle.Len())
		sample, err := l.needle.At(idx)
		if err != nil {
			return Batch{}, fmt.Errorf("load sample %d: %w", idx, err)
		}
		samples[i] = sample
	}

	return Collate(samples)
}
