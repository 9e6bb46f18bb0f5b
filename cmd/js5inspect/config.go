package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meigma/js5"
	js5http "github.com/meigma/js5/http"
)

// Config holds the archive server and cache settings.
type Config struct {
	BaseURL      string `yaml:"base_url"`
	Game         string `yaml:"game"`
	CacheVersion int    `yaml:"cache_version"`
	CacheDir     string `yaml:"cache_dir"`
	MaxInFlight  int    `yaml:"max_in_flight"`
	LZMA         bool   `yaml:"lzma"`
}

// Default returns the settings of the public archive server.
func Default() *Config {
	return &Config{
		BaseURL:      js5http.DefaultBaseURL,
		Game:         js5http.DefaultGame,
		CacheVersion: js5http.DefaultCacheVersion,
		MaxInFlight:  js5.DefaultMaxInFlight,
	}
}

// LoadFile merges the YAML file at path into c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Merge overrides c with the non-zero fields of o.
func (c *Config) Merge(o Config) {
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.Game != "" {
		c.Game = o.Game
	}
	if o.CacheVersion != 0 {
		c.CacheVersion = o.CacheVersion
	}
	if o.CacheDir != "" {
		c.CacheDir = o.CacheDir
	}
	if o.MaxInFlight != 0 {
		c.MaxInFlight = o.MaxInFlight
	}
	if o.LZMA {
		c.LZMA = true
	}
}

// NewClient builds a client from c and extra options.
func (c *Config) NewClient(extra ...js5.Option) (*js5.Client, error) {
	opts := []js5.Option{
		js5.WithBaseURL(c.BaseURL),
		js5.WithGame(c.Game),
		js5.WithCacheVersion(c.CacheVersion),
		js5.WithMaxInFlight(c.MaxInFlight),
	}
	if c.CacheDir != "" {
		opts = append(opts, js5.WithCacheDir(c.CacheDir))
	}
	if c.LZMA {
		opts = append(opts, js5.WithLZMA(true))
	}
	return js5.NewClient(append(opts, extra...)...)
}
