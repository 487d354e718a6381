// Package campaign manages outreach campaigns and their aggregate
// engagement counters.
//
// Campaign content is immutable once created; only the counters move, and
// only through IncrementCounter, which the recipient state machine calls
// after a transition commits. Repository implementations live in
// repository/postgres, repository/dynamo and repository/memory.
package campaign
