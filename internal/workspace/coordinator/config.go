package coordinator

import (
	"context"
	"time"

	"practiceoj/internal/client/api"
	"practiceoj/internal/client/push"
	"practiceoj/internal/workspace/outcome"
	"practiceoj/internal/workspace/reconciler"
	"practiceoj/internal/workspace/solved"

	"github.com/google/uuid"
)

const (
	defaultTimeout           = 60 * time.Second
	defaultCorrelationWindow = 2 * time.Minute
	defaultMaxCodeBytes      = 64 * 1024
)

// Backend is the HTTP contract of the practice backend.
type Backend interface {
	RunCode(ctx context.Context, req api.RunRequest) (outcome.Payload, error)
	SubmitSolution(ctx context.Context, req api.SubmitRequest) (outcome.Payload, error)
	RequestReview(ctx context.Context, req api.ReviewRequest) (string, error)
	ProblemStatus(ctx context.Context, problemID string) (api.ProblemStatus, error)
}

// Push is the shared event channel.
type Push interface {
	Subscribe(ctx context.Context, credential string, onEvent func(push.Event), onClose func(error)) error
	Close() error
}

// Config wires the coordinator. Backend and Solved are required.
type Config struct {
	Backend Backend
	Push    Push
	Solved  *solved.Cache

	// Timeout bounds how long a submission may stay Processing.
	Timeout time.Duration
	// CorrelationWindow bounds problem+user matching for push events without an explicit key.
	CorrelationWindow time.Duration
	MaxCodeBytes      int
	UserID            string
	AutoReview        bool

	NewIdentity func() reconciler.Identity
	Now         func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = defaultCorrelationWindow
	}
	if c.MaxCodeBytes <= 0 {
		c.MaxCodeBytes = defaultMaxCodeBytes
	}
	if c.NewIdentity == nil {
		c.NewIdentity = func() reconciler.Identity { return reconciler.Identity(uuid.NewString()) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
