package domain

import (
	"github.com/google/uuid"
)

// BuildIdempotencyKey scopes a client-supplied key to its requester.
func BuildIdempotencyKey(requesterID uuid.UUID, key string) string {
	return requesterID.String() + ":" + key
}
