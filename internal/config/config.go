// Package config loads the YAML startup configuration and bootstraps
// the bus from it, generalizing the teacher's flat config.go into a
// layout that seeds both queues and topics/subscriptions (spec §4.4,
// §7's config-driven startup).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/go-ess/ess-queue-ess/internal/arn"
	"github.com/go-ess/ess-queue-ess/internal/bus"
)

// Config is the Ess-Queue-Ess process configuration.
type Config struct {
	Server ServerConfig    `yaml:"server"`
	Bus    BusConfig       `yaml:"bus"`
	Queues []QueueConfig   `yaml:"queues"`
	Topics []TopicConfig   `yaml:"topics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// BusConfig holds the ambient settings the bus needs at construction.
type BusConfig struct {
	LogLevel             string `yaml:"log_level"`
	ServiceURLBase       string `yaml:"service_url_base"`
	Partition            string `yaml:"partition"`
	Region               string `yaml:"region"`
	Account              string `yaml:"account"`
	MoveWorkerTickMillis int    `yaml:"move_worker_tick_millis"`
}

// QueueConfig is a queue to be created at startup.
type QueueConfig struct {
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
	Tags       map[string]string `yaml:"tags"`
}

// TopicConfig is a topic (and its subscriptions) to be created at
// startup — net new relative to the teacher, which had no SNS surface.
type TopicConfig struct {
	Name          string                 `yaml:"name"`
	Attributes    map[string]string      `yaml:"attributes"`
	Subscriptions []SubscriptionConfig   `yaml:"subscriptions"`
}

// SubscriptionConfig is one subscription bootstrapped under a topic.
type SubscriptionConfig struct {
	QueueName    string `yaml:"queue_name"`
	Raw          bool   `yaml:"raw_message_delivery"`
	FilterPolicy string `yaml:"filter_policy"`
}

// Load reads and parses the YAML configuration file, applying defaults
// the way the teacher's LoadConfig does.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a Config with every default applied and no queues,
// topics, or subscriptions bootstrapped — the zero-configuration
// starting point for `essqueueess` run without `-config`.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9324
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Bus.LogLevel == "" {
		cfg.Bus.LogLevel = "info"
	}
	if cfg.Bus.ServiceURLBase == "" {
		cfg.Bus.ServiceURLBase = "https://sqs.us-east-1.amazonaws.com"
	}
	if cfg.Bus.Partition == "" {
		cfg.Bus.Partition = "aws"
	}
	if cfg.Bus.Region == "" {
		cfg.Bus.Region = "us-east-1"
	}
	if cfg.Bus.Account == "" {
		cfg.Bus.Account = "000000000000"
	}
	if cfg.Bus.MoveWorkerTickMillis == 0 {
		cfg.Bus.MoveWorkerTickMillis = 1000
	}
	for i := range cfg.Queues {
		if cfg.Queues[i].Attributes == nil {
			cfg.Queues[i].Attributes = map[string]string{}
		}
	}
	for i := range cfg.Topics {
		if cfg.Topics[i].Attributes == nil {
			cfg.Topics[i].Attributes = map[string]string{}
		}
	}
}

// Partition builds the arn.Partition this config describes.
func (c *Config) Partition() arn.Partition {
	return arn.Partition{Partition: c.Bus.Partition, Region: c.Bus.Region, Account: c.Bus.Account}
}

// BootstrapQueues creates every configured queue on b.
func BootstrapQueues(b *bus.Bus, cfg *Config) error {
	for _, qc := range cfg.Queues {
		if _, err := b.CreateQueue(qc.Name, qc.Attributes); err != nil {
			return fmt.Errorf("failed to create queue %s: %w", qc.Name, err)
		}
		if q, err := b.GetQueue(qc.Name); err == nil && len(qc.Tags) > 0 {
			q.SetTags(qc.Tags)
		}
	}
	return nil
}

// BootstrapTopics creates every configured topic and its subscriptions
// on b. Net new relative to the teacher's config (spec §4.2).
func BootstrapTopics(b *bus.Bus, cfg *Config) error {
	for _, tc := range cfg.Topics {
		t, err := b.CreateTopic(tc.Name, tc.Attributes)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", tc.Name, err)
		}
		for _, sc := range tc.Subscriptions {
			q, err := b.GetQueue(sc.QueueName)
			if err != nil {
				return fmt.Errorf("failed to subscribe %s to topic %s: %w", sc.QueueName, tc.Name, err)
			}
			if _, err := t.Subscribe("sqs", q.Arn, sc.FilterPolicy, sc.Raw); err != nil {
				return fmt.Errorf("failed to subscribe %s to topic %s: %w", sc.QueueName, tc.Name, err)
			}
		}
	}
	return nil
}
