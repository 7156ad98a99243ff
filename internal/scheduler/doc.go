// Package scheduler runs work items on pools of worker goroutines and hands
// back Task futures.
//
// Schedule and SchedulePriority return immediately; Task.Get, Task.Await and
// Task.OnComplete observe the outcome. The error a work function returns is
// delivered unchanged to every waiter, and a panic becomes a *PanicError.
// Cancel only affects tasks that have not been dequeued yet.
//
// Manager keeps a default scheduler plus any dedicated ones created by name;
// ShutdownAll aborts queued work with ErrClosed and joins every worker.
package scheduler
