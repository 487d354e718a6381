// Package recipient is the recipient state store: one record per
// (campaign, recipient email), keyed by correlation id, driven through the
// delivery/engagement state machine.
//
// Every transition is a single conditional update in the repository. The
// service reports whether it applied and, when it did, bumps the matching
// campaign counter. Counter updates are best effort and never fail the
// transition: the recipient record is the source of truth and aggregates
// are eventually consistent.
package recipient
