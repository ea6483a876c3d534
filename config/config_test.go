package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/actorcore/actor"
)

func TestLoad_DefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)

	d := actor.DefaultConfig()
	assert.Equal(t, d.StateSaveInterval, cfg.Actor.StateSaveInterval)
	assert.Equal(t, d.SleepTimeout, cfg.Actor.SleepTimeout)
	assert.Equal(t, d.MaxQueueSize, cfg.Actor.MaxQueueSize)
	assert.Equal(t, ":8787", cfg.Host.ListenAddr)
	assert.Equal(t, "./data", cfg.Host.DataDir)
}

func TestLoad_ExplicitFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actord.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[actor]
sleep_timeout = "45s"
max_queue_size = 42

[host]
listen_addr = ":9999"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Actor.SleepTimeout)
	assert.Equal(t, 42, cfg.Actor.MaxQueueSize)
	assert.Equal(t, ":9999", cfg.Host.ListenAddr)
	// untouched fields keep their defaults
	assert.Equal(t, actor.DefaultConfig().ActionTimeout, cfg.Actor.ActionTimeout)
}

func TestLoad_EnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actord.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[actor]
max_queue_size = 42
`), 0o644))

	t.Setenv("ACTORCORE_ACTOR_MAX_QUEUE_SIZE", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Actor.MaxQueueSize)
}

func TestToActorConfig_CopiesEveryField(t *testing.T) {
	a := ActorConfig{
		StateSaveInterval:      1 * time.Second,
		ActionTimeout:          2 * time.Second,
		OnConnectTimeout:       3 * time.Second,
		CreateConnStateTimeout: 4 * time.Second,
		CreateVarsTimeout:      5 * time.Second,
		OnSleepTimeout:         6 * time.Second,
		OnDestroyTimeout:       7 * time.Second,
		RunStopTimeout:         8 * time.Second,
		WaitUntilTimeout:       9 * time.Second,
		SleepTimeout:           10 * time.Second,
		NoSleep:                true,
		MaxQueueSize:           11,
		MaxQueueMessageSize:    12,
		BackoffInitial:         13 * time.Second,
		BackoffMax:             14 * time.Second,
	}
	got := a.ToActorConfig()
	assert.Equal(t, actor.Config{
		StateSaveInterval:      1 * time.Second,
		ActionTimeout:          2 * time.Second,
		OnConnectTimeout:       3 * time.Second,
		CreateConnStateTimeout: 4 * time.Second,
		CreateVarsTimeout:      5 * time.Second,
		OnSleepTimeout:         6 * time.Second,
		OnDestroyTimeout:       7 * time.Second,
		RunStopTimeout:         8 * time.Second,
		WaitUntilTimeout:       9 * time.Second,
		SleepTimeout:           10 * time.Second,
		NoSleep:                true,
		MaxQueueSize:           11,
		MaxQueueMessageSize:    12,
		BackoffInitial:         13 * time.Second,
		BackoffMax:             14 * time.Second,
	}, got)
}
