package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// CassandraDB wraps the session behind the chat message store
type CassandraDB struct {
	Session *gocql.Session
}

// CassandraConfig holds Cassandra connection configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Username string // optional
	Password string // optional
	Timeout  time.Duration
}

// cluster builds the gocql config. Credentials apply only when both are set.
func (c *CassandraConfig) cluster() *gocql.ClusterConfig {
	cluster := gocql.NewCluster(c.Hosts...)
	cluster.Keyspace = c.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	if c.Timeout > 0 {
		cluster.Timeout = c.Timeout
		cluster.ConnectTimeout = c.Timeout
	}
	cluster.NumConns = 2
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        time.Second,
		Max:        10 * time.Second,
	}

	if c.Username != "" && c.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.Username,
			Password: c.Password,
		}
	}
	return cluster
}

// NewCassandraDB opens a session on the chat keyspace
func NewCassandraDB(config *CassandraConfig) (*CassandraDB, error) {
	if len(config.Hosts) == 0 {
		return nil, fmt.Errorf("no Cassandra hosts configured")
	}

	session, err := config.cluster().CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session for keyspace %q: %w", config.Keyspace, err)
	}

	return &CassandraDB{Session: session}, nil
}

func (db *CassandraDB) Close() {
	if db.Session != nil {
		db.Session.Close()
	}
}

// Ping backs the cassandra entry of /health
func (db *CassandraDB) Ping(ctx context.Context) error {
	if err := db.Session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("cassandra ping failed: %w", err)
	}
	return nil
}
