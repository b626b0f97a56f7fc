// Package config handles configuration loading for the signac viewer and its render server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signac/viewer/pkg/colormap"
)

// Config represents the combined server and viewer configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Viewer ViewerConfig `yaml:"viewer"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	WSPath      string   `yaml:"ws_path"`
}

// DataConfig describes the dataset served to clients.
type DataConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // csv, csv.zst, xlsx, sqlite; empty = by extension
	Table  string `yaml:"table"`  // sqlite table or xlsx sheet
	// Fields restricts the exposed columns; empty exposes every numeric column.
	Fields        []string `yaml:"fields"`
	LoaderWorkers int      `yaml:"loader_workers"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ImageSizeMB     int `yaml:"image_size_mb"`
	ImageTTLMinutes int `yaml:"image_ttl_minutes"`
	QueryCacheSize  int `yaml:"query_cache_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	DefaultColormap string  `yaml:"default_colormap"`
	PointSize       float64 `yaml:"point_size"`
	MaxPoints       int     `yaml:"max_points"` // flat overlay cap; 0 = unlimited
}

// ViewerConfig contains client session settings.
type ViewerConfig struct {
	ServerURL         string `yaml:"server_url"`
	FilterSlots       int    `yaml:"filter_slots"`
	DefaultWidth      int    `yaml:"default_width"`
	DefaultHeight     int    `yaml:"default_height"`
	RefreshIntervalMS int    `yaml:"refresh_interval_ms"`
	InsetX            int    `yaml:"inset_x"`
	InsetY            int    `yaml:"inset_y"`
	ImageTimeoutMS    int    `yaml:"image_timeout_ms"`
	MaxImageRetries   int    `yaml:"max_image_retries"`
	OutputDir         string `yaml:"output_dir"`
}

// RefreshInterval returns the render loop cadence.
func (v ViewerConfig) RefreshInterval() time.Duration {
	return time.Duration(v.RefreshIntervalMS) * time.Millisecond
}

// ImageTimeout returns how long a plot waits for an image before re-requesting it.
func (v ViewerConfig) ImageTimeout() time.Duration {
	return time.Duration(v.ImageTimeoutMS) * time.Millisecond
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot honour.
func (c *Config) Validate() error {
	if _, ok := colormap.ByName(c.Render.DefaultColormap); !ok {
		return fmt.Errorf("unknown colormap %q, available: %s",
			c.Render.DefaultColormap, strings.Join(colormap.Names(), ", "))
	}
	if c.Render.MaxPoints < 0 {
		return fmt.Errorf("render.max_points must not be negative, got %d", c.Render.MaxPoints)
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			WSPath:      "/ws",
		},
		Data: DataConfig{
			Path:          "./data/simdata.csv",
			LoaderWorkers: 4,
		},
		Cache: CacheConfig{
			ImageSizeMB:     128,
			ImageTTLMinutes: 10,
			QueryCacheSize:  1000,
		},
		Render: RenderConfig{
			DefaultColormap: "viridis",
			PointSize:       1.5,
		},
		Viewer: ViewerConfig{
			ServerURL:         "ws://localhost:8080/ws",
			FilterSlots:       4,
			DefaultWidth:      400,
			DefaultHeight:     400,
			RefreshIntervalMS: 100,
			InsetX:            80,
			InsetY:            180,
			ImageTimeoutMS:    5000,
			MaxImageRetries:   3,
			OutputDir:         "./frames",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.WSPath == "" {
		cfg.Server.WSPath = defaults.Server.WSPath
	}
	if cfg.Data.Path == "" {
		cfg.Data.Path = defaults.Data.Path
	}
	if cfg.Data.LoaderWorkers == 0 {
		cfg.Data.LoaderWorkers = defaults.Data.LoaderWorkers
	}
	if cfg.Cache.ImageSizeMB == 0 {
		cfg.Cache.ImageSizeMB = defaults.Cache.ImageSizeMB
	}
	if cfg.Cache.ImageTTLMinutes == 0 {
		cfg.Cache.ImageTTLMinutes = defaults.Cache.ImageTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.PointSize == 0 {
		cfg.Render.PointSize = defaults.Render.PointSize
	}

	v := &cfg.Viewer
	dv := defaults.Viewer
	if v.ServerURL == "" {
		v.ServerURL = dv.ServerURL
	}
	if v.FilterSlots == 0 {
		v.FilterSlots = dv.FilterSlots
	}
	if v.DefaultWidth == 0 {
		v.DefaultWidth = dv.DefaultWidth
	}
	if v.DefaultHeight == 0 {
		v.DefaultHeight = dv.DefaultHeight
	}
	if v.RefreshIntervalMS == 0 {
		v.RefreshIntervalMS = dv.RefreshIntervalMS
	}
	if v.InsetX == 0 {
		v.InsetX = dv.InsetX
	}
	if v.InsetY == 0 {
		v.InsetY = dv.InsetY
	}
	if v.ImageTimeoutMS == 0 {
		v.ImageTimeoutMS = dv.ImageTimeoutMS
	}
	if v.MaxImageRetries == 0 {
		v.MaxImageRetries = dv.MaxImageRetries
	}
	if v.OutputDir == "" {
		v.OutputDir = dv.OutputDir
	}
}
