// Package verdict runs deadline-bound votes that end in a single downstream
// call.
//
// A vote is opened with a strategy, its encoded parameters and the payload
// of the call it would make. Participants vote until the deadline; the
// instance then resolves lazily on the next interaction. An accepted
// instance is implemented by resupplying the payload, which is checked
// against the commitment taken when the vote opened and dispatched exactly
// once.
//
// The voting package holds the engine, tally the strategies, and database,
// network and p2p the persistence and event relay around them. Node wires
// these together from a config.
package verdict
