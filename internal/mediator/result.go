package mediator

import "time"

// Result is the outcome envelope for commands. Dispatch never panics
// on business failures: a refused or failed command comes back as a
// Result with Success false and the refusing error in Err.
type Result struct {
	Success bool
	Data    any
	Err     error
	Elapsed time.Duration
}

func success(data any, elapsed time.Duration) Result {
	return Result{Success: true, Data: data, Elapsed: elapsed}
}

func failure(err error, elapsed time.Duration) Result {
	return Result{Err: err, Elapsed: elapsed}
}
