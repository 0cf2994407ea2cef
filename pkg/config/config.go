// Package config provides a reusable loader for Synapse-NG configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"synapse-ng/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration of a Synapse-NG node. Every field here
// is also a viper key. A ratified set_config command (§4.8) does not touch
// this struct or viper: its handler in core writes only the replicated
// config map of the global state.
type Config struct {
	Node struct {
		IDPath    string `mapstructure:"node_id_path" json:"node_id_path"`
		StatePath string `mapstructure:"state_path" json:"state_path"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"node" json:"node"`

	Gossip struct {
		IntervalSeconds int `mapstructure:"gossip_interval_seconds" json:"gossip_interval_seconds"`
	} `mapstructure:"gossip" json:"gossip"`

	Governance struct {
		ProposalVotingPeriodSeconds int64   `mapstructure:"proposal_voting_period_seconds" json:"proposal_voting_period_seconds"`
		ValidatorSetSize            int     `mapstructure:"validator_set_size" json:"validator_set_size"`
		ApprovalRatio               float64 `mapstructure:"approval_ratio" json:"approval_ratio"`
	} `mapstructure:"governance" json:"governance"`

	Economy struct {
		InitialBalanceSP          int64   `mapstructure:"initial_balance_sp" json:"initial_balance_sp"`
		TransactionTaxPercentage  float64 `mapstructure:"transaction_tax_percentage" json:"transaction_tax_percentage"`
	} `mapstructure:"economy" json:"economy"`

	Reputation struct {
		DecayFactor           float64 `mapstructure:"reputation_decay_factor" json:"reputation_decay_factor"`
		DecayIntervalSeconds  int64   `mapstructure:"reputation_decay_interval_seconds" json:"reputation_decay_interval_seconds"`
	} `mapstructure:"reputation" json:"reputation"`

	CommonTools struct {
		BillingIntervalSeconds int64 `mapstructure:"common_tools_billing_interval_seconds" json:"common_tools_billing_interval_seconds"`
		BillingPeriodDays      int   `mapstructure:"common_tools_billing_period_days" json:"common_tools_billing_period_days"`
	} `mapstructure:"common_tools" json:"common_tools"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// defaults applies the §6 default values before any file or env override is
// read, so a node that has never seen a config file still boots correctly.
func defaults() {
	viper.SetDefault("node.node_id_path", "data/identity.key")
	viper.SetDefault("node.state_path", "data/state.json")
	viper.SetDefault("node.listen_addr", "/ip4/0.0.0.0/tcp/7946")

	viper.SetDefault("gossip.gossip_interval_seconds", 5)

	viper.SetDefault("governance.proposal_voting_period_seconds", int64(7*24*3600))
	viper.SetDefault("governance.validator_set_size", 7)
	viper.SetDefault("governance.approval_ratio", 1.0)

	viper.SetDefault("economy.initial_balance_sp", int64(1000))
	viper.SetDefault("economy.transaction_tax_percentage", 0.02)

	viper.SetDefault("reputation.reputation_decay_factor", 0.99)
	viper.SetDefault("reputation.reputation_decay_interval_seconds", int64(86400))

	viper.SetDefault("common_tools.common_tools_billing_interval_seconds", int64(86400))
	viper.SetDefault("common_tools.common_tools_billing_period_days", 30)

	viper.SetDefault("logging.level", "info")
}

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded. A
// missing config file is not an error: §6 tunables all carry defaults, so a
// node can boot from environment variables and built-in defaults alone.
func Load(env string) (*Config, error) {
	defaults()

	viper.SetConfigName("synapse-ng")
	viper.AddConfigPath(".")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("synapse")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNAPSE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNAPSE_ENV", ""))
}

// Set assigns a single key to a new value and writes it back to the loaded
// config file, if any. Nothing in the repository calls it; in particular the
// ratified set_config command handler (§4.8) updates only the replicated
// config map and leaves viper and the on-disk file unchanged.
func Set(key string, value interface{}) error {
	viper.Set(key, value)
	if err := viper.Unmarshal(&AppConfig); err != nil {
		return utils.Wrap(err, "unmarshal config after set")
	}
	if viper.ConfigFileUsed() == "" {
		return nil
	}
	if err := viper.WriteConfig(); err != nil {
		return utils.Wrap(err, "persist config")
	}
	return nil
}
