package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RevocationRepository is the shared token deny-list. The booking platform
// writes revoked token ids on logout; this service only reads them.
type RevocationRepository struct {
	client *redis.Client
}

// NewRevocationRepository creates a new RevocationRepository
func NewRevocationRepository(client *redis.Client) *RevocationRepository {
	return &RevocationRepository{client: client}
}

func revokedKey(tokenID string) string {
	return fmt.Sprintf("revoked:%s", tokenID)
}

// IsTokenRevoked reports whether tokenID is on the deny-list
func (r *RevocationRepository) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	exists, err := r.client.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation in redis: %w", err)
	}
	return exists > 0, nil
}

