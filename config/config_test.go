package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	v := newViper()
	v.Set("app_env", "development")
	v.Set("storage_driver", "memory")
	v.Set("auth_disabled", true)

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.App.Debug)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Storage.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Storage.Timeout)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Minute, cfg.Scheduler.ExpireInterval)
	assert.Equal(t, "civiclearn:events", cfg.Redis.Channel)
	assert.True(t, cfg.Features.StreaksEnabled())
	assert.True(t, cfg.Features.CommunityEnabled())
}

func TestFromViper_Lists(t *testing.T) {
	v := newViper()
	v.Set("app_env", "test")
	v.Set("storage_driver", "memory")
	v.Set("auth_api_key_hashes", "$2a$10$abc, $2a$10$def ,")
	v.Set("http_allowed_origins", "https://learn.example.org")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"$2a$10$abc", "$2a$10$def"}, cfg.Auth.APIKeyHashes)
	assert.Equal(t, []string{"https://learn.example.org"}, cfg.HTTP.AllowedOrigins)
}

func TestFromViper_Rejects(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
		want string
	}{
		{
			name: "postgres without url",
			set:  map[string]any{"storage_driver": "postgres", "auth_disabled": true, "database_url": ""},
			want: "DATABASE_URL is required",
		},
		{
			name: "memory in production",
			set:  map[string]any{"app_env": "production", "storage_driver": "memory", "auth_jwt_secret": "s"},
			want: "STORAGE_DRIVER=memory is not allowed in production",
		},
		{
			name: "auth disabled in production",
			set:  map[string]any{"app_env": "production", "database_url": "postgres://x", "auth_disabled": true},
			want: "AUTH_DISABLED is not allowed in production",
		},
		{
			name: "no credentials",
			set:  map[string]any{"storage_driver": "memory", "auth_api_key_hashes": "", "auth_jwt_secret": ""},
			want: "AUTH_API_KEY_HASHES or AUTH_JWT_SECRET is required",
		},
		{
			name: "unknown driver",
			set:  map[string]any{"storage_driver": "sqlite", "auth_disabled": true},
			want: `STORAGE_DRIVER "sqlite"`,
		},
		{
			name: "zero attempts",
			set:  map[string]any{"storage_driver": "memory", "auth_disabled": true, "storage_max_attempts": 0},
			want: "STORAGE_MAX_ATTEMPTS must be at least 1",
		},
		{
			name: "scheduler without interval",
			set:  map[string]any{"storage_driver": "memory", "auth_disabled": true, "scheduler_enabled": true, "scheduler_expire_interval": "0s"},
			want: "SCHEDULER_EXPIRE_INTERVAL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set("app_env", "development")
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := FromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFeatureFlags(t *testing.T) {
	v := newViper()
	v.Set(featureNameToKey(FeatureStreaks), false)

	ff := LoadFeatureFlags(v)
	assert.False(t, ff.StreaksEnabled())
	assert.True(t, ff.ProgressCacheEnabled())
	assert.False(t, ff.IsEnabled("unknown.flag"))

	require.NoError(t, ff.Set(FeatureCommunityBadges, false))
	assert.False(t, ff.CommunityEnabled())
	assert.ErrorIs(t, ff.Set("unknown.flag", true), ErrFeatureNotFound)

	assert.Equal(t, []string{
		FeatureEventPublishing,
		FeatureCommunityBadges,
		FeatureStreaks,
		FeatureProgressCache,
	}, ff.Names())

	var none *FeatureFlags
	assert.False(t, none.IsEnabled(FeatureStreaks))
	assert.True(t, LoadFeatureFlags(nil).EventPublishingEnabled())
	assert.Equal(t, "feature_progress_cache", featureNameToKey(FeatureProgressCache))
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, loadDotEnv())

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CIVICLEARN_DOTENV_PROBE=loaded\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("CIVICLEARN_DOTENV_PROBE") })

	require.NoError(t, loadDotEnv())
	assert.Equal(t, "loaded", os.Getenv("CIVICLEARN_DOTENV_PROBE"))
}
