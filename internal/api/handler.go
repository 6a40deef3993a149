package api

import (
	"log/slog"

	"github.com/dotcelery/dotcelery/internal/deadletter"
	"github.com/dotcelery/dotcelery/internal/history"
	"github.com/dotcelery/dotcelery/internal/killswitch"
	"github.com/dotcelery/dotcelery/internal/partition"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/revocation"
	"github.com/dotcelery/dotcelery/internal/saga"
)

// Handler is the operator API's dependency-bearing request handler.
type Handler struct {
	results     resultbackend.Backend
	revocations revocation.Store
	sagas       *saga.Orchestrator
	partitions  partition.Lock
	killSwitch  *killswitch.KillSwitch
	deadLetters deadletter.Store
	history     history.Store
	logger      *slog.Logger
}

// Config is the dependency bundle used to build a Handler. Any field may be
// left nil; the handlers it backs respond 503 rather than panicking.
type Config struct {
	Results     resultbackend.Backend
	Revocations revocation.Store
	Sagas       *saga.Orchestrator
	Partitions  partition.Lock
	KillSwitch  *killswitch.KillSwitch
	DeadLetters deadletter.Store
	History     history.Store
	Logger      *slog.Logger
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		results:     cfg.Results,
		revocations: cfg.Revocations,
		sagas:       cfg.Sagas,
		partitions:  cfg.Partitions,
		killSwitch:  cfg.KillSwitch,
		deadLetters: cfg.DeadLetters,
		history:     cfg.History,
		logger:      cfg.Logger,
	}
}
