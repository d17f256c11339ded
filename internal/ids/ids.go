// Package ids generates correlation ids for log lines that follow one
// connection or one bootstrap attempt across multiple log statements.
package ids

import "github.com/google/uuid"

// New returns a fresh correlation id.
func New() string {
	return uuid.NewString()
}
