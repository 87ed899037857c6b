package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_SQLite(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := NewClient(&Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	}, logger)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, client.Driver())
	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.Equal(t, 1, client.GetDB().Stats().MaxOpenConnections)

	require.NoError(t, client.Close())
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestDataSourceName(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    string
		wantErr bool
	}{
		{
			name: "postgres",
			config: Config{
				Driver: DriverPostgres, Host: "db", Port: 5432, User: "worker",
				Password: "pw", Database: "jobs", SSLMode: "disable",
			},
			want: "host=db port=5432 user=worker password=pw dbname=jobs sslmode=disable",
		},
		{
			name:   "sqlite",
			config: Config{Driver: DriverSQLite, Path: "/tmp/jobs.db"},
			want:   "/tmp/jobs.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on",
		},
		{name: "sqlite without path", config: Config{Driver: DriverSQLite}, wantErr: true},
		{name: "unknown driver", config: Config{Driver: "mysql"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := dataSourceName(&tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dsn)
		})
	}
}
