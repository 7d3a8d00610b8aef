package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"consultlink-backend/internal/domain"
)

// PresenceRepository mirrors room membership into Redis for operators and dashboards.
// The in-process room registry stays authoritative; these keys only expire.
type PresenceRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *redis.Client, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: ttl}
}

func presenceKey(roomID string) string {
	return fmt.Sprintf("presence:room:%s", roomID)
}

// Joined records the endpoint as present in roomID and refreshes the key TTL.
// The hash field is the endpoint id; the value is the identity as "role:id".
func (r *PresenceRepository) Joined(ctx context.Context, roomID, endpointID string, identity domain.Identity) error {
	key := presenceKey(roomID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, endpointID, identity.String())
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}

	return nil
}

// Left removes the endpoint from roomID
func (r *PresenceRepository) Left(ctx context.Context, roomID, endpointID string) error {
	if err := r.client.HDel(ctx, presenceKey(roomID), endpointID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}
