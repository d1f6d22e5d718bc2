// Package workers provides utilities for determining worker pool sizes
// in containerized environments.
//
// runtime.NumCPU() reports the host machine's CPU count even under
// cgroup limits, while Go 1.19+ sets GOMAXPROCS from the container CPU
// limit. These helpers size pools from GOMAXPROCS so a pod limited to 2
// cores on a 64-core node gets 2 transcoding slots, not 64.
//
//	// CPU-bound (transcoding): 1 worker per CPU
//	n := workers.ForCPU(16)
//
//	// I/O-bound: 2 workers per CPU
//	n := workers.ForIO(32)
package workers
