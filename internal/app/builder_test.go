package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/shipwatch/tracking-server/internal/config"
	couriermocks "github.com/shipwatch/tracking-server/internal/courier/mocks"
	"github.com/shipwatch/tracking-server/internal/manifest"
)

func testAppConfig() *config.Config {
	return &config.Config{
		ServiceName: "shipwatch-test",
		Courier: config.CourierConfig{
			Endpoint: "https://poll.example.com/query.do",
			Customer: "CUSTOMER-1",
			Key:      "secret-key",
		},
	}
}

func TestBaseConfig(t *testing.T) {
	t.Parallel()

	t.Run("requires config", func(t *testing.T) {
		t.Parallel()

		_, err := baseConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config is required")
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()

		cfg, err := baseConfig(WithConfig(testAppConfig()))
		require.NoError(t, err)
		assert.Equal(t, defaultHTTPAddress, cfg.address)
		assert.Equal(t, defaultReadTimeout, cfg.readTimeout)
	})
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "valid host and port", addr: "127.0.0.1:8080"},
		{name: "port only", addr: ":8080"},
		{name: "localhost", addr: "localhost:9090"},
		{name: "empty", addr: "", wantErr: true},
		{name: "missing port", addr: "127.0.0.1:", wantErr: true},
		{name: "not an address", addr: "what even is this", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := baseConfig(WithConfig(testAppConfig()), WithAddress(tt.addr))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, cfg.address)
		})
	}
}

func TestNewTrackingApp(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := couriermocks.NewMockClient(ctrl)

	store, err := manifest.NewInMemoryStore()
	require.NoError(t, err)

	app, err := NewTrackingApp(context.Background(),
		WithConfig(testAppConfig()),
		WithAddress("127.0.0.1:0"),
		WithStore(store),
		WithCourierClient(client),
	)
	require.NoError(t, err)
	require.NotNil(t, app)

	components := app.Components()
	assert.Same(t, store, components.ManifestStore)
	assert.NotNil(t, components.SyncCoordinator)
	assert.NotNil(t, components.QueryEngine)
	assert.NotNil(t, components.ManifestCache)
	assert.Equal(t, "127.0.0.1:0", app.GetHTTPServer().Addr)
	assert.Equal(t, "shipwatch-test", app.GetConfig().ServiceName)
}

func TestNewTrackingApp_BuildsRealCourierClient(t *testing.T) {
	t.Parallel()

	app, err := NewTrackingApp(context.Background(),
		WithConfig(testAppConfig()),
		WithAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)
	assert.NotNil(t, app.Components().CourierClient)
}

func TestNewTrackingApp_InvalidCourierConfig(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig()
	cfg.Courier.Key = ""

	_, err := NewTrackingApp(context.Background(), WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "courier")
}

func TestTrackingApp_StartStop(t *testing.T) {
	t.Parallel()

	app, err := NewTrackingApp(context.Background(),
		WithConfig(testAppConfig()),
		WithAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	// Give the listener a moment to come up before shutting down.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, app.Stop(2*time.Second))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop in time")
	}
}
