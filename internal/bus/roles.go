package bus

import (
	"log/slog"
	"sync"
)

// RoleState is what LogRoles has been asked to do so far.
type RoleState struct {
	RetryResets         int    `json:"retry_resets"`
	Scheduled           bool   `json:"scheduled"`
	ScheduledGeneration uint32 `json:"scheduled_generation"`
}

// LogRoles is a RoleManager for hosts without bus-manager duties: it logs
// and records requests instead of acting on them.
type LogRoles struct {
	logger *slog.Logger

	mu    sync.Mutex
	state RoleState
}

func NewLogRoles(logger *slog.Logger) *LogRoles {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRoles{logger: logger}
}

func (r *LogRoles) ResetRetries() {
	r.mu.Lock()
	r.state.RetryResets++
	r.mu.Unlock()
	r.logger.Debug("bus manager retries reset")
}

func (r *LogRoles) Schedule(generation uint32) {
	r.mu.Lock()
	r.state.Scheduled = true
	r.state.ScheduledGeneration = generation
	r.mu.Unlock()
	r.logger.Info("bus manager work scheduled", "generation", generation)
}

// State returns a copy of the recorded requests.
func (r *LogRoles) State() RoleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
