// Package dispatch sends a campaign to its recipients.
//
// A dispatch normalizes the recipient list, ensures the campaign exists,
// takes the campaign's distributed lock, and then for every recipient:
// generates a correlation id, registers a pending record, composes the
// message, and hands it to the configured provider. Recipients are sent in
// concurrent batches separated by a fixed delay. One recipient's failure
// never affects another, and nothing is retried.
package dispatch
