// Package parallel fans kernel work out over a shared worker pool.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"github.com/alitto/pond/v2"
)

// NewPool creates a pool sized for kernel work. workers <= 0 uses every CPU.
func NewPool(workers int) pond.Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return pond.NewPool(workers)
}

// For runs fn(i) for i in [0,n) on the pool and waits for all of them.
// A nil pool runs serially on the caller's goroutine. Items not yet started
// when ctx is cancelled are skipped and ctx.Err() is returned.
func For(ctx context.Context, pool pond.Pool, n int, fn func(i int)) error {
	if pool == nil {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(i)
		}
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			fn(i)
		})
	}
	wg.Wait()

	return ctx.Err()
}
