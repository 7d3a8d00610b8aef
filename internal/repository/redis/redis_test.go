package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultlink-backend/internal/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestPresenceRepository(t *testing.T) {
	mr, client := newTestClient(t)
	repo := NewPresenceRepository(client, 5*time.Minute)
	ctx := context.Background()

	const key = "presence:room:room_abc"
	doctor := domain.Doctor(uuid.New())
	patient := domain.Patient(uuid.New())

	// The doctor has the room open in two tabs
	require.NoError(t, repo.Joined(ctx, "room_abc", "ep-doctor-1", doctor))
	require.NoError(t, repo.Joined(ctx, "room_abc", "ep-doctor-2", doctor))
	require.NoError(t, repo.Joined(ctx, "room_abc", "ep-patient", patient))

	fields, err := mr.HKeys(key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ep-doctor-1", "ep-doctor-2", "ep-patient"}, fields)
	assert.Equal(t, doctor.String(), mr.HGet(key, "ep-doctor-2"))
	assert.Equal(t, 5*time.Minute, mr.TTL(key))

	// Closing one tab keeps the doctor present through the other
	require.NoError(t, repo.Left(ctx, "room_abc", "ep-doctor-1"))
	fields, err = mr.HKeys(key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ep-doctor-2", "ep-patient"}, fields)

	mr.FastForward(6 * time.Minute)
	assert.False(t, mr.Exists(key))
}

func TestRevocationRepository(t *testing.T) {
	mr, client := newTestClient(t)
	repo := NewRevocationRepository(client)
	ctx := context.Background()

	revoked, err := repo.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	// Written by the booking platform on logout
	require.NoError(t, mr.Set("revoked:jti-1", "1"))
	mr.SetTTL("revoked:jti-1", time.Minute)
	revoked, err = repo.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)
	revoked, err = repo.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevocationRepository_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()
	repo := NewRevocationRepository(client)

	_, err := repo.IsTokenRevoked(context.Background(), "jti-1")
	assert.Error(t, err)
}
