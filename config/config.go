// Package config loads the runtime-wide tunables from a TOML file,
// with environment variable overrides, the way teranos/QNTX's am
// package loads am.toml/config.toml — but scoped to this module's own
// handful of settings instead of QNTX's sprawling per-domain config
// tree.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teranos/actorcore/actor"
	"github.com/teranos/actorcore/errors"
)

// EnvPrefix is the prefix environment overrides use, e.g.
// ACTORCORE_ACTOR_SLEEP_TIMEOUT.
const EnvPrefix = "ACTORCORE"

// Config is the top-level configuration tree. Only the Actor block maps
// directly onto actor.Config; Host covers the demo process's own knobs.
type Config struct {
	Actor ActorConfig `mapstructure:"actor"`
	Host  HostConfig  `mapstructure:"host"`
}

// ActorConfig mirrors actor.Config field-for-field so it can be loaded
// from TOML/env and converted with ToActorConfig.
type ActorConfig struct {
	StateSaveInterval time.Duration `mapstructure:"state_save_interval"`

	ActionTimeout          time.Duration `mapstructure:"action_timeout"`
	OnConnectTimeout       time.Duration `mapstructure:"on_connect_timeout"`
	CreateConnStateTimeout time.Duration `mapstructure:"create_conn_state_timeout"`
	CreateVarsTimeout      time.Duration `mapstructure:"create_vars_timeout"`
	OnSleepTimeout         time.Duration `mapstructure:"on_sleep_timeout"`
	OnDestroyTimeout       time.Duration `mapstructure:"on_destroy_timeout"`
	RunStopTimeout         time.Duration `mapstructure:"run_stop_timeout"`
	WaitUntilTimeout       time.Duration `mapstructure:"wait_until_timeout"`

	SleepTimeout time.Duration `mapstructure:"sleep_timeout"`
	NoSleep      bool          `mapstructure:"no_sleep"`

	MaxQueueSize        int `mapstructure:"max_queue_size"`
	MaxQueueMessageSize int `mapstructure:"max_queue_message_size"`

	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// HostConfig covers cmd/actord's own process-level settings.
type HostConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`
}

// ToActorConfig converts the loaded block into the actor package's own
// Config type.
func (a ActorConfig) ToActorConfig() actor.Config {
	return actor.Config{
		StateSaveInterval:      a.StateSaveInterval,
		ActionTimeout:          a.ActionTimeout,
		OnConnectTimeout:       a.OnConnectTimeout,
		CreateConnStateTimeout: a.CreateConnStateTimeout,
		CreateVarsTimeout:      a.CreateVarsTimeout,
		OnSleepTimeout:         a.OnSleepTimeout,
		OnDestroyTimeout:       a.OnDestroyTimeout,
		RunStopTimeout:         a.RunStopTimeout,
		WaitUntilTimeout:       a.WaitUntilTimeout,
		SleepTimeout:           a.SleepTimeout,
		NoSleep:                a.NoSleep,
		MaxQueueSize:           a.MaxQueueSize,
		MaxQueueMessageSize:    a.MaxQueueMessageSize,
		BackoffInitial:         a.BackoffInitial,
		BackoffMax:             a.BackoffMax,
	}
}

// SetDefaults registers every tunable with the same values as
// actor.DefaultConfig, so a missing or partial actord.toml still
// yields a fully populated Config.
func SetDefaults(v *viper.Viper) {
	d := actor.DefaultConfig()

	v.SetDefault("actor.state_save_interval", d.StateSaveInterval)
	v.SetDefault("actor.action_timeout", d.ActionTimeout)
	v.SetDefault("actor.on_connect_timeout", d.OnConnectTimeout)
	v.SetDefault("actor.create_conn_state_timeout", d.CreateConnStateTimeout)
	v.SetDefault("actor.create_vars_timeout", d.CreateVarsTimeout)
	v.SetDefault("actor.on_sleep_timeout", d.OnSleepTimeout)
	v.SetDefault("actor.on_destroy_timeout", d.OnDestroyTimeout)
	v.SetDefault("actor.run_stop_timeout", d.RunStopTimeout)
	v.SetDefault("actor.wait_until_timeout", d.WaitUntilTimeout)
	v.SetDefault("actor.sleep_timeout", d.SleepTimeout)
	v.SetDefault("actor.no_sleep", d.NoSleep)
	v.SetDefault("actor.max_queue_size", d.MaxQueueSize)
	v.SetDefault("actor.max_queue_message_size", d.MaxQueueMessageSize)
	v.SetDefault("actor.backoff_initial", d.BackoffInitial)
	v.SetDefault("actor.backoff_max", d.BackoffMax)

	v.SetDefault("host.listen_addr", ":8787")
	v.SetDefault("host.data_dir", "./data")
}

// Load reads actord.toml from configPath (searching upward from the
// working directory if empty), applying ACTORCORE_*-prefixed environment
// overrides on top, the same precedence am.Load uses for QNTX.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	path := configPath
	if path == "" {
		path = findConfigFile("actord.toml")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// findConfigFile walks up from the working directory looking for name,
// mirroring am.findProjectConfig's upward search.
func findConfigFile(name string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
