package utils

import (
	"runtime"
	"sync"

	"github.com/xyproto/env/v2"
)

// Relocation scanning and output copying are embarrassingly parallel:
// independent sections touch disjoint output ranges. MOLD_JOBS caps the
// fan-out, mainly so failures can be reproduced single-threaded.
var numJobs = env.Int("MOLD_JOBS", runtime.NumCPU())

func Parallel[T any](elems []T, fn func(T)) {
	jobs := numJobs
	if jobs > len(elems) {
		jobs = len(elems)
	}
	if jobs <= 1 {
		for _, elem := range elems {
			fn(elem)
		}
		return
	}

	ch := make(chan T)
	wg := sync.WaitGroup{}
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for elem := range ch {
				fn(elem)
			}
		}()
	}

	for _, elem := range elems {
		ch <- elem
	}
	close(ch)
	wg.Wait()
}
