// Package config loads the service configuration from YAML.
package config

import (
	"os"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/preceeder/go.insights/datasource"
	"github.com/preceeder/go.insights/embed"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "INSIGHTS_CONFIG"

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // text | json
}

//	server:
//	  addr: ":8080"
//	log:
//	  level: info
//	store:
//	  name: meta
//	  type: sqlite
//	  path: insights.db
//	dataSources:
//	  - name: shop
//	    type: mysql
//	    host: 127.0.0.1
//	    user: report
//	    password: ${SHOP_PASSWORD}
//	    db: shop
//	embed:
//	  secret: ${INSIGHTS_EMBED_SECRET}
//	  ttl: 24h
type Config struct {
	Server      ServerConfig        `json:"server" yaml:"server"`
	Log         LogConfig           `json:"log" yaml:"log"`
	Store       datasource.Config   `json:"store" yaml:"store"`
	DataSources []datasource.Config `json:"dataSources" yaml:"dataSources"`
	Embed       embed.Config        `json:"embed" yaml:"embed"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Store:  datasource.Config{Name: "meta", Type: datasource.SQLite, Path: "insights.db"},
		Embed:  embed.Config{TTL: 24 * time.Hour},
	}
}

// Path returns flagPath, or the path named by INSIGHTS_CONFIG.
func Path(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvConfig)
}

// Load reads the file at path over the defaults. ${VAR} references are
// expanded from the environment. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	names := make([]string, 0, len(c.DataSources))
	for i, ds := range c.DataSources {
		if ds.Name == "" {
			return errors.Errorf("dataSources[%d]: name is required", i)
		}
		if slice.Contain(names, ds.Name) {
			return errors.Errorf("data source %s is defined twice", ds.Name)
		}
		if _, _, err := ds.DSN(); err != nil {
			return err
		}
		names = append(names, ds.Name)
	}
	if _, _, err := c.Store.DSN(); err != nil {
		return errors.Wrap(err, "store")
	}
	return nil
}
