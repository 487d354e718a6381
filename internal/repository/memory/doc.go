// Package memory holds process-local repositories used when no database is
// configured and by service tests. Each repository guards its maps with a
// mutex, which makes every conditional update atomic.
package memory
