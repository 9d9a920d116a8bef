package cmd

import (
	"context"
	"testing"

	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogStoreProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url      string
		expected string
		wantErr  bool
	}{
		{url: "", expected: "memory"},
		{url: "memory://", expected: "memory"},
		{url: "postgres://u:p@localhost:5432/db", expected: "postgres"},
		{url: "postgresql://localhost/db", expected: "postgresql"},
		{url: "redis://localhost:6379/0", expected: "redis"},
		{url: "mysql://localhost", wantErr: true},
		{url: "localhost:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()

			provider, err := parseLogStoreProvider(tt.url)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, provider)
		})
	}
}

func TestNewLogStore_Memory(t *testing.T) {
	t.Parallel()

	store, err := NewLogStore(context.Background(), log.Discard(), "memory://")
	require.NoError(t, err)
	assert.IsType(t, &memory.LogStore{}, store)
}
