// Package scheduler is an in-process timed-callback scheduler.
//
// A Scheduler keeps future work sorted by absolute fire time. Producers call
// Add and Delete from any goroutine; a single dispatch actor runs the
// Wait → Dispatch cycle:
//
//	for {
//		if _, err := s.Wait(ctx); err != nil {
//			return err
//		}
//		if _, err := s.Dispatch(ctx); err != nil {
//			return err
//		}
//	}
//
// Tasks run with the scheduler lock released and may call Add or Delete on the
// scheduler that is running them. A task's Result decides whether the entry is
// fired again: under PolicyFixed the entry's own interval is used, under
// PolicyDynamic the delay returned by the task. Every entry carries a retry
// budget; a negative budget never runs out.
//
// Execution and long-running supervision live in internal/task/engine.
package scheduler
