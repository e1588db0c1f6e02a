// Package tally implements the voting strategies: plain majority, quorum
// majority weighted by fungible or non-fungible holdings, and elimination
// brackets. Each strategy owns its tally type and plugs into voting.Engine.
package tally
