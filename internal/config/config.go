/*
Copyright (c) st2110core authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config reads the library-wide "Init parameters" of spec.md §6
// from YAML, the same way fbclock/daemon.ReadConfig and
// ptp4u/server.Config are built: a flat struct unmarshalled with
// yaml.UnmarshalStrict, validated by an explicit method rather than tags.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// SchedulerConfig configures one tasklet scheduler (one OS thread).
type SchedulerConfig struct {
	CPUID            int           `yaml:"cpu_id"`
	DefaultSleepUS   int64         `yaml:"default_sleep_us"`
	DMAQueueSize     int           `yaml:"dma_queue_size"`
	DMAMaxSharedLend int           `yaml:"dma_max_shared_lenders"`
	MigrationPeriod  time.Duration `yaml:"migration_period"`
}

// PortConfig configures one NIC port's admission budget, per spec.md §6
// "Init parameters" (BDF/interface name, max-tx-sessions, max-rx-sessions,
// header-split queues, rx-pool-data-size, udp-payload-size).
type PortConfig struct {
	Name              string `yaml:"name"`
	Iface             string `yaml:"iface"`
	TotalMbps         int64  `yaml:"total_mbps"`
	MaxTXSessions     int    `yaml:"max_tx_sessions"`
	MaxRXSessions     int    `yaml:"max_rx_sessions"`
	HeaderSplitQueues int    `yaml:"header_split_queues"`
	RXPoolDataSize    int    `yaml:"rx_pool_data_size"`
	UDPPayloadSize    int    `yaml:"udp_payload_size"`
}

// Config is the top-level library init configuration of spec.md §6.
type Config struct {
	Schedulers      []SchedulerConfig `yaml:"schedulers"`
	Ports           []PortConfig      `yaml:"ports"`
	PTPInterface    string            `yaml:"ptp_interface"`
	EBUEnabled      bool              `yaml:"ebu_enabled"`
	EBUSummaryEvery int               `yaml:"ebu_summary_every_frames"`
	LogLevel        string            `yaml:"log_level"`
	AutoStart       bool              `yaml:"auto_start"`
	NUMABind        int               `yaml:"numa_bind"`
	StatsPort       int               `yaml:"stats_port"`
}

// DefaultConfig returns the library's built-in defaults, used when no file
// is supplied and overridden field-by-field by ReadConfig callers.
func DefaultConfig() Config {
	return Config{
		Schedulers:      []SchedulerConfig{{CPUID: 0, DefaultSleepUS: 50, DMAQueueSize: 64, DMAMaxSharedLend: 4}},
		EBUSummaryEvery: 300,
		LogLevel:        "info",
		NUMABind:        -1,
		StatsPort:       9110,
	}
}

// Validate checks invariants the rest of the library assumes hold,
// mirroring fbclock/daemon.Config.EvalAndValidate's style of one
// fmt.Errorf per offending field.
func (c *Config) Validate() error {
	if len(c.Schedulers) == 0 {
		return fmt.Errorf("bad config: at least one scheduler required")
	}
	for i, s := range c.Schedulers {
		if s.DefaultSleepUS < 0 {
			return fmt.Errorf("bad config: schedulers[%d].default_sleep_us must be >= 0", i)
		}
		if s.DMAMaxSharedLend <= 0 {
			return fmt.Errorf("bad config: schedulers[%d].dma_max_shared_lenders must be > 0", i)
		}
	}
	for i, p := range c.Ports {
		if p.TotalMbps <= 0 {
			return fmt.Errorf("bad config: ports[%d].total_mbps must be > 0", i)
		}
		if c.Ports[i].MaxTXSessions == 0 {
			c.Ports[i].MaxTXSessions = 8
		}
		if c.Ports[i].MaxRXSessions == 0 {
			c.Ports[i].MaxRXSessions = 8
		}
		if c.Ports[i].UDPPayloadSize == 0 {
			c.Ports[i].UDPPayloadSize = 1440
		}
	}
	if c.EBUEnabled && c.EBUSummaryEvery <= 0 {
		return fmt.Errorf("bad config: ebu_summary_every_frames must be > 0 when ebu_enabled")
	}
	return nil
}

// ReadConfig reads and validates a YAML config file.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
