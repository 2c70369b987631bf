package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/fwtopo/internal/filter"
)

// Validate checks the config for:
//   - Required fields and known failure policies
//   - Duplicate subscriber names
//   - Subscriber filters that do not parse
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	switch cfg.Bus.FailurePolicy {
	case PolicyHold, PolicyReset:
	default:
		errs = append(errs, fmt.Sprintf("bus: unknown failure_policy %q (want %q or %q)", cfg.Bus.FailurePolicy, PolicyHold, PolicyReset))
	}
	if cfg.Bus.MaxForcedResets < 0 {
		errs = append(errs, "bus: max_forced_resets must not be negative")
	}
	if cfg.Dispatcher.QueueDepth < 1 {
		errs = append(errs, "dispatcher: queue_depth must be positive")
	}
	if cfg.Dispatcher.DeliveryTimeoutMs < 0 {
		errs = append(errs, "dispatcher: delivery_timeout_ms must not be negative")
	}

	names := make(map[string]int)
	for i, s := range cfg.Subscribers {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("subscribers[%d]: name is required", i))
			continue
		}
		if prev, ok := names[s.Name]; ok {
			errs = append(errs, fmt.Sprintf("duplicate subscriber %q (subscribers[%d] and subscribers[%d])", s.Name, prev, i))
		} else {
			names[s.Name] = i
		}
		if s.Type == "" {
			errs = append(errs, fmt.Sprintf("subscriber %s: type is required", s.Name))
		}
		if s.Filter != "" {
			if _, err := filter.Parse(s.Filter); err != nil {
				errs = append(errs, fmt.Sprintf("subscriber %s: filter: %s", s.Name, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
