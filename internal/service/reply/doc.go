// Package reply correlates inbound mail to the recipient it answers.
//
// Replies are attributed only through the threading headers: the
// References header (then In-Reply-To) must carry a Message-ID minted by
// the composer. Sender address, subject and body are never used for
// matching. A reply that cannot be attributed is rejected and nothing is
// stored.
package reply
