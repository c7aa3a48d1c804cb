package secrets

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// HashPool runs Hasher work on a bounded number of goroutines so that slow,
// deliberately expensive hashing cannot starve other requests of CPU.
//
// A caller whose context ends stops waiting and gets ctx.Err(); work already
// started runs to completion in the background and then frees its slot.
type HashPool struct {
	Hasher Hasher
	sem    *semaphore.Weighted
}

// NewHashPool creates a pool running at most workers hashes at a time.
// workers <= 0 means one per CPU.
func NewHashPool(hasher Hasher, workers int) *HashPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &HashPool{Hasher: hasher, sem: semaphore.NewWeighted(int64(workers))}
}

type hashResult struct {
	stored string
	ok     bool
	err    error
}

func (p *HashPool) run(ctx context.Context, fn func() hashResult) (hashResult, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return hashResult{}, err
	}
	done := make(chan hashResult, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return hashResult{}, ctx.Err()
	}
}

// Hash computes the stored form of plaintext
func (p *HashPool) Hash(ctx context.Context, plaintext string) (string, error) {
	res, err := p.run(ctx, func() hashResult {
		stored, err := p.Hasher.Hash(plaintext)
		return hashResult{stored: stored, err: err}
	})
	if err != nil {
		return "", err
	}
	return res.stored, res.err
}

// Verify checks plaintext against stored. The error is only ever a context error.
func (p *HashPool) Verify(ctx context.Context, plaintext, stored string) (bool, error) {
	res, err := p.run(ctx, func() hashResult {
		return hashResult{ok: p.Hasher.Verify(plaintext, stored)}
	})
	if err != nil {
		return false, err
	}
	return res.ok, nil
}

// NeedsRehash is cheap and runs inline
func (p *HashPool) NeedsRehash(stored string) bool {
	return p.Hasher.NeedsRehash(stored)
}
