package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"social-service/internal/config"
	"social-service/internal/util"
)

// Statements holds the CQL used by the message repository. gocql prepares and
// caches each statement on first use.
type Statements struct {
	InsertMessage      string
	UpsertConversation string
	SelectHistory      string
	SelectUnread       string
	MarkMessageRead    string
	SelectConversation string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages_by_conversation (
        conversation_bucket int,
        conversation_key    text,
        created_at          timestamp,
        message_id          text,
        sender_id           text,
        receiver_id         text,
        text                text,
        file_url            text,
        audio_url           text,
        image_url           text,
        read                boolean,
        PRIMARY KEY ((conversation_bucket, conversation_key), created_at, message_id)
    ) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC)`,
	`CREATE TABLE IF NOT EXISTS conversations_by_identity (
        identity_id      text,
        counterpart_id   text,
        last_message_id  text,
        last_sender_id   text,
        last_receiver_id text,
        last_text        text,
        last_file_url    text,
        last_audio_url   text,
        last_image_url   text,
        last_read        boolean,
        last_created_at  timestamp,
        PRIMARY KEY ((identity_id), counterpart_id)
    )`,
}

type ScyllaClient struct {
	Session    *gocql.Session
	Statements Statements
}

func NewScyllaClient(cfg config.ScyllaConfig, useTLS bool) (*ScyllaClient, error) {
	cluster := gocql.NewCluster(cfg.Nodes...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if useTLS {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/app/certs/scylla.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/app/certs/scylla.key"),
			EnableHostVerification: true,
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session:    session,
		Statements: defaultStatements(),
	}

	util.Info("ScyllaDB client initialized",
		util.Strings("nodes", cfg.Nodes),
		util.String("keyspace", cfg.Keyspace))

	return client, nil
}

func defaultStatements() Statements {
	return Statements{
		InsertMessage: `INSERT INTO messages_by_conversation (
            conversation_bucket, conversation_key, created_at, message_id,
            sender_id, receiver_id, text, file_url, audio_url, image_url, read
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		UpsertConversation: `INSERT INTO conversations_by_identity (
            identity_id, counterpart_id, last_message_id, last_sender_id, last_receiver_id,
            last_text, last_file_url, last_audio_url, last_image_url, last_read, last_created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		SelectHistory: `SELECT message_id, sender_id, receiver_id, text, file_url, audio_url, image_url, read, created_at
        FROM messages_by_conversation WHERE conversation_bucket = ? AND conversation_key = ?`,
		SelectUnread: `SELECT created_at, message_id, receiver_id, read
        FROM messages_by_conversation WHERE conversation_bucket = ? AND conversation_key = ?`,
		MarkMessageRead: `UPDATE messages_by_conversation SET read = true
        WHERE conversation_bucket = ? AND conversation_key = ? AND created_at = ? AND message_id = ?`,
		SelectConversation: `SELECT counterpart_id, last_message_id, last_sender_id, last_receiver_id,
            last_text, last_file_url, last_audio_url, last_image_url, last_read, last_created_at
        FROM conversations_by_identity WHERE identity_id = ?`,
	}
}

// EnsureSchema creates the message tables in the configured keyspace.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.ExecuteWithRetry(ctx, s.Session.Query(stmt), 3); err != nil {
			return fmt.Errorf("failed to apply scylla schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema ensured")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ExecuteWithRetry retries transient write failures with a linear backoff.
func (s *ScyllaClient) ExecuteWithRetry(ctx context.Context, query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := query.WithContext(ctx).Exec()
		if err == nil {
			return nil
		}
		lastErr = err
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}
