package loaders

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Batch holds one batch of stacked feature vectors and labels.
type Batch struct {
	Data   *mat.Dense // [batch, inputSize]
	Labels *mat.Dense // [batch, classes]
}

// DataLoader provides batching, shuffling, and concurrent sample loading.
// The worker count maps the original loader's worker processes onto
// goroutines that assemble batches ahead of the consumer.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	workers   int
	rng       *rand.Rand
}

// NewDataLoader creates a new DataLoader.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, workers int, seed int64) *DataLoader {
	if workers < 1 {
		workers = 1
	}
	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		workers:   workers,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// SampleCount returns the number of samples in the underlying dataset.
func (dl *DataLoader) SampleCount() int { return dl.dataset.Len() }

type batchResult struct {
	batch *Batch
	err   error
}

// Epoch starts one pass over the dataset and returns its iterator. Worker
// goroutines prefetch batches; batch order is whatever the workers finish,
// which is irrelevant under shuffling.
func (dl *DataLoader) Epoch() *EpochIterator {
	indices := make([]int, dl.dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	if dl.shuffle {
		dl.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	numBatches := dl.Len()
	jobs := make(chan []int, numBatches)
	for start := 0; start < len(indices); start += dl.batchSize {
		end := start + dl.batchSize
		if end > len(indices) {
			end = len(indices)
		}
		jobs <- indices[start:end]
	}
	close(jobs)

	it := &EpochIterator{
		results:   make(chan batchResult, dl.workers),
		done:      make(chan struct{}),
		remaining: numBatches,
	}

	var wg sync.WaitGroup
	for w := 0; w < dl.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range jobs {
				batch, err := dl.loadBatch(batchIdx)
				select {
				case it.results <- batchResult{batch: batch, err: err}:
				case <-it.done:
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(it.results)
	}()

	return it
}

// loadBatch stacks the samples for one batch into dense matrices.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	data := mat.NewDense(len(indices), dl.dataset.InputSize(), nil)
	labels := mat.NewDense(len(indices), dl.dataset.Classes(), nil)
	for i, idx := range indices {
		features, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("load sample %d: %w", idx, err)
		}
		data.SetRow(i, features)
		labels.SetRow(i, label)
	}
	return &Batch{Data: data, Labels: labels}, nil
}

// EpochIterator yields the batches of one epoch.
type EpochIterator struct {
	results   chan batchResult
	done      chan struct{}
	closeOnce sync.Once
	remaining int
}

// Next returns the next batch, or (nil, nil) when the epoch is complete.
func (it *EpochIterator) Next() (*Batch, error) {
	if it.remaining == 0 {
		return nil, nil
	}
	res, ok := <-it.results
	if !ok {
		return nil, nil
	}
	it.remaining--
	if res.err != nil {
		return nil, res.err
	}
	return res.batch, nil
}

// Close releases the prefetch workers. Safe to call more than once; a fully
// drained iterator does not need it.
func (it *EpochIterator) Close() {
	it.closeOnce.Do(func() { close(it.done) })
}
