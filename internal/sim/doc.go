// Package sim is an in-process device that executes the bitonic kernels
// with goroutines.
//
// Groups of a dispatch run on a work-stealing worker pool. By default each
// group sweeps its lanes step by step on one goroutine. With
// Config.LaneGoroutines every lane is its own goroutine and the lanes of a
// group meet at a reusable barrier after each local-sort step, mirroring
// workgroupBarrier on a GPU.
//
// Dispatches are asynchronous: Dispatch returns once the groups are queued
// and Barrier waits for them. Issuing a dispatch, upload or download while
// an earlier dispatch is still unfenced fails with ErrUnfenced, so a missing
// barrier in a caller is reported instead of racing.
package sim
