// Package domain holds the outreach value types shared by the services,
// repositories and HTTP handlers: campaigns and their aggregates, recipient
// records and the transitions that move them, tracking events, replies, and
// the composed message handed to a provider.
//
// The package imports nothing from internal/. Behaviour is limited to pure
// helpers on the values themselves (Transition.Valid, Transition.Counter).
// Struct tags carry the JSON, SQL column and DynamoDB attribute names.
package domain
