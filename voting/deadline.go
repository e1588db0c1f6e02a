package voting

import "time"

// Deadline is the end of the voting window of an instance (or of the current
// round for multi-round instances).
type Deadline struct {
	Start    time.Time
	Duration time.Duration
}

func (d Deadline) At() time.Time {
	return d.Start.Add(d.Duration)
}

// Elapsed reports whether now is strictly after the deadline. A vote cast at
// exactly the deadline still counts.
func (d Deadline) Elapsed(now time.Time) bool {
	return now.After(d.At())
}
