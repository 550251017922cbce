// Package parallel splits index ranges into contiguous chunks and runs them
// concurrently, blocking until every chunk completes.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest number of indices handed to a goroutine.
const minChunk = 16

// For calls fn over [0, n) split into contiguous [start, end) ranges.
// At most workers ranges run at once; workers <= 0 uses GOMAXPROCS and
// workers == 1 calls fn(0, n) on the calling goroutine.
// Ranges are disjoint so fn may write to per-index storage without locking.
func For(workers, n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunks := min(workers, (n+minChunk-1)/minChunk)
	if chunks <= 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + chunks - 1) / chunks
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	g.Wait()
}
