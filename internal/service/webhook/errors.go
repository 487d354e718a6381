package webhook

import "errors"

// ErrMalformed is returned for bodies that are not a decodable
// notification. Handlers answer 400.
var ErrMalformed = errors.New("malformed webhook payload")
