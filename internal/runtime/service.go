package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	transportpkg "github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/transports"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const (
	routerCloseTimeout = 30 * time.Second

	// A consume loop that stayed up this long starts the next reconnect from
	// the initial backoff again.
	healthyRunReset = time.Minute
)

var errConsumerStopped = errors.New("taskflow: consumer stopped while context is live")

// ServiceDependencies holds the optional collaborators of a Service. Zero
// values select the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.

	// Registry resolves events.pubsub_system. Defaults to the registry holding
	// every built-in transport.
	Registry *transportpkg.Registry

	// FailurePolicy overrides events.on_failure.
	FailurePolicy FailurePolicy

	Metrics    *Metrics
	Registerer prometheus.Registerer

	// ReconnectBackOff is called once per Run. Defaults to exponential backoff.
	ReconnectBackOff func() backoff.BackOff
}

// Service hosts one consumer loop: it subscribes to the configured topic,
// decodes every message and dispatches it to the handler registered for its
// event type. Messages are handled one at a time and committed only after the
// handler and the failure policy are done with them.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry    *transportpkg.Registry
	policy      FailurePolicy
	metrics     *Metrics
	registerer  prometheus.Registerer
	middlewares []MiddlewareRegistration
	newBackOff  func() backoff.BackOff

	handlers   map[string]EventHandler
	fallback   EventHandler
	handlersMu sync.RWMutex

	// Router and publisher of the current consume loop.
	activeMu  sync.RWMutex
	router    *message.Router
	publisher message.Publisher
}

// NewService constructs a Service for the supplied configuration. Register
// handlers on the returned Service before calling Run.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	registry := deps.Registry
	if registry == nil {
		transports.RegisterAll()
		registry = transportpkg.DefaultRegistry
	}

	policy := deps.FailurePolicy
	if policy == nil {
		policy = PolicyFor(conf.Events.OnFailure)
	}

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	newBackOff := deps.ReconnectBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}

	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	log.Info("Creating event service", loggingpkg.LogFields{
		"pubsub_system":  conf.GetPubSubSystem(),
		"topic":          conf.GetTopic(),
		"consumer_group": conf.GetConsumerGroup(),
		"on_failure":     policy.Name(),
	})

	return &Service{
		Conf:        conf,
		Logger:      log,
		registry:    registry,
		policy:      policy,
		metrics:     deps.Metrics,
		registerer:  registerer,
		middlewares: registrations,
		newBackOff:  newBackOff,
		handlers:    make(map[string]EventHandler),
	}, nil
}

// Name returns the service name used in logs and metric labels.
func (s *Service) Name() string {
	return s.Conf.Service.Name
}

// Run consumes until ctx is cancelled. A lost broker connection or a closed
// subscription restarts the consume loop with exponential backoff; Run only
// returns early for errors that a reconnect cannot fix.
func (s *Service) Run(ctx context.Context) error {
	if !s.hasHandlers() {
		return errspkg.ErrHandlerRequired
	}

	b := s.newBackOff()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		started := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return struct{}{}, nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return struct{}{}, err
		}
		if time.Since(started) > healthyRunReset {
			b.Reset()
		}
		if err == nil {
			err = errConsumerStopped
		}
		s.metrics.reconnectInc(s.Name())
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.Logger.Error("Consumer loop stopped, reconnecting", err, loggingpkg.LogFields{
				"topic":   s.Conf.GetTopic(),
				"backoff": next.String(),
			})
		}),
	)

	if ctx.Err() != nil {
		s.Logger.Info("Consumer stopped", loggingpkg.LogFields{"topic": s.Conf.GetTopic()})
		return nil
	}
	return err
}

func (s *Service) runOnce(ctx context.Context) error {
	wmLogger := loggingpkg.NewWatermillAdapter(s.Logger)

	tr, err := s.registry.Build(ctx, s.Conf, wmLogger)
	if err != nil {
		return errspkg.Upstream("consumer.connect", err)
	}
	defer func() {
		if cerr := tr.Close(); cerr != nil {
			s.Logger.Error("Failed to close transport", cerr, nil)
		}
	}()

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: routerCloseTimeout}, wmLogger)
	if err != nil {
		return backoff.Permanent(err)
	}

	s.setActive(router, tr.Publisher)
	defer s.setActive(nil, nil)

	for _, reg := range s.middlewares {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return backoff.Permanent(fmt.Errorf("failed to register middleware %s: %w", name, err))
		}
	}

	router.AddConsumerHandler(s.handlerName(), s.Conf.GetTopic(), tr.Subscriber, s.dispatch)

	s.Logger.Info("Consuming events", loggingpkg.LogFields{
		"topic":          s.Conf.GetTopic(),
		"consumer_group": s.Conf.GetConsumerGroup(),
		"initial_offset": s.Conf.GetInitialOffset(),
		"replay":         s.Conf.GetReplayOnStart(),
	})
	return routerRun(router, ctx)
}

func (s *Service) handlerName() string {
	if name := s.Name(); name != "" {
		return name + "-consumer"
	}
	return "taskflow-consumer"
}

func (s *Service) setActive(router *message.Router, pub message.Publisher) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.router = router
	s.publisher = pub
}

func (s *Service) activePublisher() message.Publisher {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.publisher
}

// Running is closed once the current consume loop is subscribed. It returns
// nil when no loop is active.
func (s *Service) Running() <-chan struct{} {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	if s.router == nil {
		return nil
	}
	return s.router.Running()
}
