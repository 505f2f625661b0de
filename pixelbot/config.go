package pixelbot

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log    LogConfig  `toml:"log"`
	Data   DataConfig `toml:"data"`
	Spaces struct {
		Key    string `toml:"key"`
		Secret string `toml:"secret"`
		Region string `toml:"region"`
		Bucket string `toml:"bucket"`
		Root   string `toml:"root"`
	} `toml:"spaces"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// DataConfig locates the snapshot and its dated backups on disk.
type DataConfig struct {
	Dir       string `toml:"dir"`
	BackupDir string `toml:"backup_dir"`
}

// MirrorEnabled reports whether offsite backup mirroring is configured.
func (c *Config) MirrorEnabled() bool {
	return c.Spaces.Key != "" && c.Spaces.Secret != "" && c.Spaces.Bucket != ""
}
