// Package httputil provides the JSON response and request helpers shared by
// the API, webhook and tracking handlers.
package httputil
