package couchbase

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog/log"
)

// Config holds the cluster coordinates
type Config struct {
	URL      string
	Username string
	Password string
	Bucket   string
	Scope    string
	// ReadyTimeout bounds the wait for the KV and query services
	ReadyTimeout time.Duration
}

// Connection wraps the cluster and bucket handles
type Connection struct {
	cluster *gocb.Cluster
	bucket  *gocb.Bucket
	scope   string
}

// connectionString accepts bare host names and http:// URLs as well as
// couchbase:// and couchbases:// connection strings
func connectionString(url string) string {
	switch {
	case strings.HasPrefix(url, "couchbase://"), strings.HasPrefix(url, "couchbases://"):
		return url
	case strings.HasPrefix(url, "http://"):
		return "couchbase://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		return "couchbases://" + strings.TrimPrefix(url, "https://")
	}
	return "couchbase://" + url
}

// Connect opens the cluster and waits for the bucket to serve KV and query
func Connect(cfg Config) (*Connection, error) {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	connStr := connectionString(cfg.URL)

	log.Info().
		Str("url", connStr).
		Str("bucket", cfg.Bucket).
		Str("scope", cfg.Scope).
		Msg("Creating Couchbase connection")

	cluster, err := gocb.Connect(connStr, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{Username: cfg.Username, Password: cfg.Password},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Couchbase cluster")
		return nil, fmt.Errorf("connect cluster: %w", err)
	}

	bucket := cluster.Bucket(cfg.Bucket)
	err = bucket.WaitUntilReady(cfg.ReadyTimeout, &gocb.WaitUntilReadyOptions{
		ServiceTypes: []gocb.ServiceType{gocb.ServiceTypeKeyValue, gocb.ServiceTypeQuery},
	})
	if err != nil {
		log.Error().Err(err).Msg("Couchbase bucket not ready")
		_ = cluster.Close(nil)
		return nil, fmt.Errorf("bucket not ready: %w", err)
	}

	log.Info().Msg("Couchbase connection created successfully")
	return &Connection{cluster: cluster, bucket: bucket, scope: cfg.Scope}, nil
}

// Close closes the cluster connection
func (c *Connection) Close() error {
	if c.cluster != nil {
		return c.cluster.Close(nil)
	}
	return nil
}

func (c *Connection) collection(name string) *gocb.Collection {
	return c.bucket.Scope(c.scope).Collection(name)
}

// keyspace is the fully qualified `bucket`.`scope`.`collection` name
func (c *Connection) keyspace(name string) string {
	return keyspace(c.bucket.Name(), c.scope, name)
}

func keyspace(bucket, scope, collection string) string {
	return fmt.Sprintf("`%s`.`%s`.`%s`", bucket, scope, collection)
}
