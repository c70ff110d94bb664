package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port string
	}
	Skip struct {
		Cooldown time.Duration
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level string
	}
}

// Addr returns the listen address gin expects, e.g. ":3000".
func (c Config) Addr() string {
	return ":" + c.Server.Port
}

var C Config

// Load reads path if it exists, then applies environment overrides.
// A missing file is fine; the defaults and env cover a bare deployment.
func Load(path string) error {
	v := viper.New()
	v.SetDefault("server.port", "3000")
	v.SetDefault("skip.cooldown", time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")

	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("skip.cooldown", "SKIP_COOLDOWN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return err
	}
	C = c
	return nil
}
