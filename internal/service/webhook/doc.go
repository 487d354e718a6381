// Package webhook ingests provider event notifications delivered over SNS
// and applies them to recipient records. Notifications are keyed only by
// the correlation id echoed in the message headers; anything that cannot
// be attributed is acknowledged and dropped so the provider stops
// retrying it.
package webhook
