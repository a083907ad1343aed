package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formsync/internal/models"
)

// PingAck is the fixed acknowledgment returned by the ping job, used as a
// dispatcher health probe.
const PingAck = "pong"

// Handler executes one job. The context carries the soft time limit: a
// handler that observes ctx cancellation may clean up and return before
// the hard limit fires. The returned string is stored as the job result.
type Handler func(ctx context.Context, job *models.Job) (string, error)

// Registration binds a job name to its queue, limits and handler. The
// registry is built explicitly at startup; there is no scanning or ambient
// global.
type Registration struct {
	Name       string
	Queue      string
	MaxRetries int
	SoftLimit  time.Duration
	HardLimit  time.Duration
	Handler    Handler
}

type Registry struct {
	entries map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.New("job name is required")
	}
	if reg.Queue == "" {
		return errors.New("queue is required")
	}
	if reg.Handler == nil {
		return errors.New("handler is required")
	}
	if reg.SoftLimit <= 0 || reg.HardLimit <= 0 || reg.SoftLimit >= reg.HardLimit {
		return fmt.Errorf("job %s: soft limit must be positive and below hard limit", reg.Name)
	}
	if _, exists := r.entries[reg.Name]; exists {
		return fmt.Errorf("job %s already registered", reg.Name)
	}
	r.entries[reg.Name] = reg
	return nil
}

func (r *Registry) Get(name string) (Registration, bool) {
	reg, ok := r.entries[name]
	return reg, ok
}

// Queues returns the distinct queue names the registry routes to.
func (r *Registry) Queues() []string {
	seen := make(map[string]struct{})
	var queues []string
	for _, reg := range r.entries {
		if _, ok := seen[reg.Queue]; ok {
			continue
		}
		seen[reg.Queue] = struct{}{}
		queues = append(queues, reg.Queue)
	}
	return queues
}

// RegisterPing installs the debug job that verifies the dispatcher is
// reachable.
func (r *Registry) RegisterPing(maxRetries int, soft, hard time.Duration) error {
	return r.Register(Registration{
		Name:       models.JobPing,
		Queue:      models.QueueValidation,
		MaxRetries: maxRetries,
		SoftLimit:  soft,
		HardLimit:  hard,
		Handler: func(ctx context.Context, job *models.Job) (string, error) {
			return PingAck, nil
		},
	})
}
