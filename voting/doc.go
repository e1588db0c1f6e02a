// Package voting runs deadline-bound collective decisions. Each voting
// instance is started with strategy-specific parameters and a committed action
// payload, collects votes until its deadline, and once accepted may be
// implemented by anyone: the committed payload is dispatched exactly once to
// the instance's target.
//
// The lifecycle is shared by every strategy:
//
//	inactive -> active -> awaitcall -> completed
//	                  \           \
//	                   -> failed   -> failed
//
// Tallying rules live behind the Strategy and Tally interfaces (see package
// tally). Deadlines are evaluated lazily: an instance whose deadline passed is
// resolved by the next mutating call, while reads always report the status
// it would resolve to.
package voting
