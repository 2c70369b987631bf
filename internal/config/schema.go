package config

// Config is the top-level YAML structure.
type Config struct {
	Version     string          `yaml:"version"`
	Bus         BusConf         `yaml:"bus"`
	Dispatcher  DispatcherConf  `yaml:"dispatcher"`
	Subscribers []SubscriberDef `yaml:"subscribers"`
}

// FailurePolicy selects what the bus manager does when a self-ID snapshot
// cannot be turned into a tree.
type FailurePolicy string

const (
	// PolicyHold keeps the last good topology and marks it stale.
	PolicyHold FailurePolicy = "hold"
	// PolicyReset also asks for a fresh bus reset, a bounded number of times.
	PolicyReset FailurePolicy = "reset"
)

// BusConf holds settings of the bus manager.
type BusConf struct {
	Name            string        `yaml:"name"`
	FailurePolicy   FailurePolicy `yaml:"failure_policy"`
	MaxForcedResets int           `yaml:"max_forced_resets"`
}

// DispatcherConf holds tunable delivery settings.
type DispatcherConf struct {
	QueueDepth        int `yaml:"queue_depth"`
	DeliveryTimeoutMs int `yaml:"delivery_timeout_ms"`
}

// SubscriberDef declares one event consumer.
type SubscriberDef struct {
	Name     string                 `yaml:"name"`
	Type     string                 `yaml:"type"`
	Filter   string                 `yaml:"filter"` // empty = every event
	Disabled bool                   `yaml:"disabled"`
	Params   map[string]interface{} `yaml:"params"`
}
