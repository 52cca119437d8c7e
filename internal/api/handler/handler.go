package handler

import (
	"context"
	"log/slog"

	"github.com/flowkit/stage-runner/internal/history"
	"github.com/flowkit/stage-runner/internal/runner/domain"
)

// Invoker runs one invocation end-to-end. Satisfied by *runner.Runner;
// an interface so handlers can be tested with a stub.
type Invoker interface {
	Run(ctx context.Context, inv *domain.Invocation) *domain.Response
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Runner  Invoker
	History *history.Store // nil disables run lookup and recording
}

// InvocationHandler handles invocation HTTP requests
type InvocationHandler struct {
	logger  *slog.Logger
	runner  Invoker
	history *history.Store
}

// NewInvocationHandler creates a new InvocationHandler instance
func NewInvocationHandler(deps *Dependencies) *InvocationHandler {
	return &InvocationHandler{
		logger:  deps.Logger,
		runner:  deps.Runner,
		history: deps.History,
	}
}
