package shared

import "github.com/google/uuid"

// NewID returns a new random UUID in string form. Attempt IDs and event
// envelope IDs are minted here so the rest of the code never imports the
// uuid package directly.
func NewID() string {
	return uuid.NewString()
}
