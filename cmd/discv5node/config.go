package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// fileConfig is the on-disk YAML shape for a node's configuration. Any
// field left zero keeps whatever default the flags or the library's own
// withDefaults() would otherwise apply.
type fileConfig struct {
	NodeKeyPath string   `yaml:"node_key_path"`
	ListenAddr  string   `yaml:"listen_addr"`
	Bootnodes   []string `yaml:"bootnodes"`
	NetRestrict string   `yaml:"net_restrict"`

	RespTimeoutMS   int `yaml:"resp_timeout_ms"`
	RefreshMinutes  int `yaml:"refresh_minutes"`
	BucketIPLimit   int `yaml:"bucket_ip_limit"`
	TableIPLimit    int `yaml:"table_ip_limit"`

	PortalCapacityMB int    `yaml:"portal_capacity_mb"`
	PortalDataDir    string `yaml:"portal_data_dir"`

	LogFile string `yaml:"log_file"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c fileConfig) respTimeout() time.Duration {
	if c.RespTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.RespTimeoutMS) * time.Millisecond
}

func (c fileConfig) refreshInterval() time.Duration {
	if c.RefreshMinutes <= 0 {
		return 0
	}
	return time.Duration(c.RefreshMinutes) * time.Minute
}
