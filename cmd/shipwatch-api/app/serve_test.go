package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shipwatch/tracking-server/internal/config"
)

func TestStoreKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "in-memory", storeKind(&config.Config{}))
	assert.Equal(t, "postgres", storeKind(&config.Config{
		Database: &config.DatabaseConfig{Host: "localhost"},
	}))
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()

	assert.Equal(t, "shipwatch-api", cmd.Use)

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "version")
}
