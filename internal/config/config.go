// Package config is used to load the configuration file
package config

import (
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/machoreloc/internal/utils"
	"github.com/spf13/viper"
)

// Mutator backends.
const (
	BackendInstallNameTool = "install_name_tool"
	BackendNative          = "native"
)

// Backends lists the supported mutator backends.
var Backends = []string{BackendInstallNameTool, BackendNative}

type bundle struct {
	LibDir          string   `mapstructure:"lib-dir"`
	SearchDirs      []string `mapstructure:"search-dirs"`
	RpathPrefix     string   `mapstructure:"rpath-prefix"`
	Backend         string   `mapstructure:"backend"`
	InstallNameTool string   `mapstructure:"install-name-tool"`
	AdhocSign       bool     `mapstructure:"adhoc-sign"`
	Recursive       bool     `mapstructure:"recursive"`
	Force           bool     `mapstructure:"force"`
}

// Config is the configuration struct
type Config struct {
	Verbose  bool   `mapstructure:"verbose"`
	LogLevel string `mapstructure:"log-level"`
	Bundle   bundle `mapstructure:"bundle"`
}

func (c *Config) verify() error {
	if c.Bundle.Backend == "" {
		c.Bundle.Backend = BackendInstallNameTool
	} else if !utils.StrSliceHas(Backends, c.Bundle.Backend) {
		return fmt.Errorf("config: unsupported backend %q; must be one of: %s", c.Bundle.Backend, strings.Join(Backends, ", "))
	}
	c.Bundle.Backend = strings.ToLower(c.Bundle.Backend)

	if c.Bundle.RpathPrefix == "" {
		c.Bundle.RpathPrefix = "@loader_path"
	} else if !strings.HasPrefix(c.Bundle.RpathPrefix, "@") {
		return fmt.Errorf("config: rpath prefix %q must start with a loader token (e.g. @loader_path)", c.Bundle.RpathPrefix)
	}
	c.Bundle.RpathPrefix = strings.TrimSuffix(c.Bundle.RpathPrefix, "/")

	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("config: %v", err)
		}
	}

	return nil
}

// Level returns the log level the configuration asks for.
func (c *Config) Level() log.Level {
	if c.Verbose {
		return log.DebugLevel
	}
	if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
		return lvl
	}
	return log.InfoLevel
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	var c *Config

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = new(Config)
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
