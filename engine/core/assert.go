package core

import "fmt"

// Assert halts on a violated programmer contract. These are not runtime
// errors: a false condition here means the caller broke an API invariant.
// Panicking (rather than Fatalf) lets deferred cleanup run and lets tests
// observe the violation.
func Assert(condition bool, msg string) {
	if !condition {
		getLogger().Error(msg)
		panic(msg)
	}
}

func Assertf(condition bool, format string, args ...interface{}) {
	if !condition {
		msg := fmt.Sprintf(format, args...)
		getLogger().Error(msg)
		panic(msg)
	}
}
