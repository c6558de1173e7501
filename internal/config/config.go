package config

import (
	"errors"
	"fmt"
	"io/fs"

	"go-rom-boxart/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultDatBaseURL        = "https://raw.githubusercontent.com/libretro/libretro-database/master/metadat/no-intro"
	DefaultThumbnailBaseURL  = "https://github.com/libretro-thumbnails"
	DefaultDatSubdir         = "no-intro"
	DefaultBoxartSubdir      = "_nds/TWiLightMenu/boxart"
	DefaultErrorLogPath      = "errors.txt"
	DefaultMinThumbnailBytes = 20000
)

// ErrConfigNotFound is returned when the config file does not exist. Callers
// may treat it as "use defaults".
var ErrConfigNotFound = errors.New("config file not found")

// LoadConfig reads the configuration from the specified path (defaulting to "config.toml")
// and fills unset fields with defaults. A missing file returns the defaults together
// with ErrConfigNotFound.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ApplyDefaults(models.Config{}), fmt.Errorf("%w: %s", ErrConfigNotFound, configFilePath)
		}
		return ApplyDefaults(models.Config{}), fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return ApplyDefaults(cfg), nil
}

// ApplyDefaults returns cfg with every empty field set to its default value.
func ApplyDefaults(cfg models.Config) models.Config {
	if cfg.DatBaseURL == "" {
		cfg.DatBaseURL = DefaultDatBaseURL
	}
	if cfg.ThumbnailBaseURL == "" {
		cfg.ThumbnailBaseURL = DefaultThumbnailBaseURL
	}
	if cfg.DatSubdir == "" {
		cfg.DatSubdir = DefaultDatSubdir
	}
	if cfg.BoxartSubdir == "" {
		cfg.BoxartSubdir = DefaultBoxartSubdir
	}
	if cfg.ErrorLogPath == "" {
		cfg.ErrorLogPath = DefaultErrorLogPath
	}
	if cfg.MinThumbnailBytes <= 0 {
		cfg.MinThumbnailBytes = DefaultMinThumbnailBytes
	}
	if cfg.DatParser == "" {
		cfg.DatParser = "clrmame"
	}
	if cfg.ApiClientTimeoutSec < 0 {
		cfg.ApiClientTimeoutSec = 0
	}
	return cfg
}
