package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient starts a disposable PostgreSQL container, applies
// migrations against it, and returns a connected Client.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := Config{
		Host:            host,
		Port:            port.Int(),
		User:            "test",
		Password:        "test",
		Database:        "test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := client.Ping(ctx)
	require.NoError(t, err)

	health, err := Health(ctx, client.Pool)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxConns, int32(0))
}

func TestFullTextSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Exec(ctx,
		`INSERT INTO workflows (workflow_id, session_id, current_stage, current_state, original_request, autonomy_level, created_at)
		VALUES ($1, $2, 'interpretation', 'INITIALIZED', $3, 2, now())`,
		"wf-1", "sess-1", "Critical error in production cluster with pod failures")
	require.NoError(t, err)

	_, err = client.Exec(ctx,
		`INSERT INTO workflows (workflow_id, session_id, current_stage, current_state, original_request, autonomy_level, created_at)
		VALUES ($1, $2, 'interpretation', 'INITIALIZED', $3, 2, now())`,
		"wf-2", "sess-2", "Warning: high memory usage detected")
	require.NoError(t, err)

	rows, err := client.Query(ctx,
		`SELECT workflow_id FROM workflows
		WHERE to_tsvector('english', original_request) @@ to_tsquery('english', $1)`,
		"error & production",
	)
	require.NoError(t, err)

	var results []string
	for rows.Next() {
		var workflowID string
		require.NoError(t, rows.Scan(&workflowID))
		results = append(results, workflowID)
	}
	rows.Close()

	assert.Equal(t, []string{"wf-1"}, results)

	rows2, err := client.Query(ctx,
		`SELECT workflow_id FROM workflows
		WHERE to_tsvector('english', original_request) @@ to_tsquery('english', $1)`,
		"memory",
	)
	require.NoError(t, err)

	var results2 []string
	for rows2.Next() {
		var workflowID string
		require.NoError(t, rows2.Scan(&workflowID))
		results2 = append(results2, workflowID)
	}
	rows2.Close()

	assert.Equal(t, []string{"wf-2"}, results2)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 5,
			},
			wantErr: false,
		},
		{
			name: "missing password",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "",
				Database: "test", MaxOpenConns: 10, MaxIdleConns: 5,
			},
			wantErr: true,
		},
		{
			name: "idle conns exceed max conns",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", MaxOpenConns: 5, MaxIdleConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero max open conns",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", MaxOpenConns: 0, MaxIdleConns: 0,
			},
			wantErr: true,
		},
		{
			name: "negative idle conns",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", MaxOpenConns: 10, MaxIdleConns: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
