package conversation

import (
	"time"

	"convopilot_backend/internal/alerts"
	"convopilot_backend/internal/breaker"
	"convopilot_backend/internal/buffer"
	"convopilot_backend/internal/compliance"
	"convopilot_backend/internal/conversation/repository"
	"convopilot_backend/internal/events"
	"convopilot_backend/internal/metrics"
	"convopilot_backend/internal/scheduler"
	"convopilot_backend/internal/tenant"
	"convopilot_backend/platform/config"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Breaker tunables. Per-process, rebuilt closed on restart.
const (
	aiBreakerThreshold       = 3
	aiBreakerTimeout         = 60 * time.Second
	providerBreakerThreshold = 5
	providerBreakerTimeout   = 30 * time.Second
)

// Module is the conversation bounded context: router, state engine, agent
// coordinator, and orchestrator, plus the burst debounce buffer.
type Module struct {
	orchestrator *Orchestrator
	buffer       *buffer.Service
	repo         *repository.Repository
	breakers     *breaker.Registry
}

// Deps are the externally-owned dependencies the module is wired with.
type Deps struct {
	Pool            *pgxpool.Pool
	Tenants         tenant.Reader
	Config          ConfigProvider
	AI              AIProvider
	Provider        ProviderSender
	Scheduler       *scheduler.Client
	Boundary        *alerts.Boundary
	BreakerNotifier breaker.Notifier
	Bus             events.Bus
	Metrics         *metrics.Metrics
	Core            config.CoreConfig
	Log             *logger.Logger
}

// NewModule wires the conversation core.
func NewModule(d Deps) *Module {
	repo := repository.New(d.Pool)

	stateHook := func(name string, s breaker.State) {
		if d.Metrics != nil {
			d.Metrics.BreakerState.WithLabelValues(name).Set(float64(s))
		}
	}
	aiBreaker := breaker.New("gemini", aiBreakerThreshold, aiBreakerTimeout, d.Log,
		breaker.WithNotifier(d.BreakerNotifier), breaker.WithStateHook(stateHook))
	providerBreaker := breaker.New("whatsapp", providerBreakerThreshold, providerBreakerTimeout, d.Log,
		breaker.WithNotifier(d.BreakerNotifier), breaker.WithStateHook(stateHook))
	breakers := breaker.NewRegistry(providerBreakerThreshold, providerBreakerTimeout, d.Log)
	breakers.Register(aiBreaker)
	breakers.Register(providerBreaker)

	gateway := compliance.New(d.Config, d.Log)

	router := NewRouter(d.Tenants, d.Config, repo, d.Scheduler, d.Bus, d.Metrics, d.Log)
	coordinator := NewCoordinator(repo, d.Config, d.Tenants, gateway, d.AI, aiBreaker,
		d.Scheduler, d.Scheduler, d.Boundary, d.Bus, d.Metrics, d.Log)
	engine := NewEngine(repo, d.Config, coordinator, d.Bus, d.Metrics, d.Log)

	// The buffer and orchestrator reference each other: the orchestrator
	// arms timers, the timer callback runs the orchestrator. The handle
	// breaks the construction cycle.
	handle := &bufferHandle{}
	orchestrator := NewOrchestrator(router, coordinator, engine, repo, d.Tenants, handle,
		d.Provider, providerBreaker, d.Boundary, d.Bus, d.Metrics, d.Log)

	quiet := d.Core.GetBufferQuietPeriod()
	if quiet <= 0 {
		quiet = 8 * time.Second
	}
	opts := []buffer.Option{}
	if d.Metrics != nil {
		pending := d.Metrics.BufferPending
		opts = append(opts, buffer.WithPendingHook(func(delta int) {
			pending.Add(float64(delta))
		}))
	}
	handle.svc = buffer.New(quiet, orchestrator.ProcessBurst, d.Log, opts...)

	return &Module{
		orchestrator: orchestrator,
		buffer:       handle.svc,
		repo:         repo,
		breakers:     breakers,
	}
}

// Breakers exposes the circuit breaker registry for operational endpoints.
func (m *Module) Breakers() *breaker.Registry { return m.breakers }

// Orchestrator exposes the conversation entry point for the webhook sink
// and the worker handlers.
func (m *Module) Orchestrator() *Orchestrator { return m.orchestrator }

// Buffer exposes the debounce service for lifecycle shutdown.
func (m *Module) Buffer() *buffer.Service { return m.buffer }

// Repository exposes the data access layer.
func (m *Module) Repository() *repository.Repository { return m.repo }

type bufferHandle struct {
	svc *buffer.Service
}

func (h *bufferHandle) ScheduleProcessing(tenantID uuid.UUID, phone string) {
	if h.svc != nil {
		h.svc.ScheduleProcessing(tenantID, phone)
	}
}
