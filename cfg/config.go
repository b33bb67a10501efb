// Package cfg loads the engine configuration from a YAML file and turns
// it into ready-to-use scan options and lockers.
package cfg

import (
	"fmt"
	"io"
	"os"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// LazyPolicy is "on-demand" (default), "always" or "never".
	LazyPolicy string `yaml:"lazyPolicy"`
	// LockStrategies to apply in order; more than one builds a composite
	// lock. Valid names: dotlock, dotlock-nfs, flock, fcntl.
	LockStrategies []string `yaml:"lockStrategies"`
	// LockTimeout is the number of one-second retries on contention.
	LockTimeout int `yaml:"lockTimeout"`
	// TakeFields lists the header fields kept in the field index.
	TakeFields []string `yaml:"takeFields"`
	// IndexFile is the path of the field cache database, empty for none.
	IndexFile string `yaml:"indexFile"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LazyPolicy:     "on-demand",
		LockStrategies: []string{string(lock.StrategyDotlock)},
		LockTimeout:    10,
		TakeFields:     []string{"Subject", "From", "To", "Date", "Message-Id"},
	}
}

// LoadFileConfig loads the configuration from the file.
func LoadFileConfig(fileName string) (*Config, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	return loadConfig(file)
}

// loadConfig from a io.ReadCloser
func loadConfig(reader io.ReadCloser) (*Config, error) {
	defer reader.Close()
	decoder := yaml.NewDecoder(reader)
	config := Default()
	err := decoder.Decode(config)
	if err != nil {
		return nil, err
	}
	if err = validateConfiguration(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validateConfiguration(config *Config) error {
	if _, err := policyFromName(config.LazyPolicy); err != nil {
		return err
	}
	for _, name := range config.LockStrategies {
		switch lock.Strategy(name) {
		case lock.StrategyDotlock, lock.StrategyDotlockNFS, lock.StrategyFlock, lock.StrategyFcntl:
		default:
			return fmt.Errorf("unknown lock strategy %q", name)
		}
	}
	return nil
}

func policyFromName(name string) (mailbox.LazyPolicy, error) {
	switch name {
	case "", "on-demand":
		return mailbox.LazyOnDemand, nil
	case "always":
		return mailbox.LazyAlways, nil
	case "never":
		return mailbox.LazyNever, nil
	}
	return mailbox.LazyOnDemand, fmt.Errorf("unknown lazy policy %q", name)
}

// Policy returns the configured lazy policy.
func (c *Config) Policy() mailbox.LazyPolicy {
	policy, err := policyFromName(c.LazyPolicy)
	if err != nil {
		return mailbox.LazyOnDemand
	}
	return policy
}

// ScanOptions builds the scan options for one folder. The index is the
// caller's to provide, since opening it needs the container stamp.
func (c *Config) ScanOptions(index mailbox.FieldIndex) mailbox.ScanOptions {
	return mailbox.ScanOptions{
		Policy: c.Policy(),
		Take:   c.TakeFields,
		Index:  index,
	}
}

// NewLocker builds the configured locker chain over target: a single
// locker when one strategy is configured, a composite taking them in
// order otherwise, nil when locking is disabled.
func (c *Config) NewLocker(target string, logger lib.Logger) (lock.Locker, error) {
	lockConfig := lock.Config{Timeout: c.LockTimeout, Log: logger}
	lockers := make([]lock.Locker, 0, len(c.LockStrategies))
	for _, name := range c.LockStrategies {
		locker, err := lock.New(lock.Strategy(name), target, lockConfig)
		if err != nil {
			return nil, err
		}
		lockers = append(lockers, locker)
	}
	switch len(lockers) {
	case 0:
		return nil, nil
	case 1:
		return lockers[0], nil
	}
	return lock.NewMulti(lockers...), nil
}
