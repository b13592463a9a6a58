package di

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fnyamweya/caricash-nova-sub003/internal/approval"
	"github.com/fnyamweya/caricash-nova-sub003/internal/config"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/posting"
	"github.com/fnyamweya/caricash-nova-sub003/internal/core/reversal"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/fraud"
	"github.com/fnyamweya/caricash-nova-sub003/internal/policy"
	"github.com/fnyamweya/caricash-nova-sub003/internal/recon"
	"github.com/fnyamweya/caricash-nova-sub003/internal/server/api/rest"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/eventarchive"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb/sqlstore"
)

// Provider configures and registers services in the container.
type Provider struct {
	container *Container
	config    *config.Config
}

// NewProvider creates a new service provider.
func NewProvider(container *Container, cfg *config.Config) *Provider {
	return &Provider{
		container: container,
		config:    cfg,
	}
}

// RegisterAll registers all services. Everything is lazy: nothing opens a
// database or a pebble directory until first resolved.
func (p *Provider) RegisterAll() error {
	p.container.Register(ServiceConfig, p.config)

	p.registerStorageBuilders()
	p.registerEventBuilders()
	p.registerCoreBuilders()
	p.registerGovernanceBuilders()
	p.registerServerBuilder()

	return nil
}

func (p *Provider) registerStorageBuilders() {
	p.container.RegisterBuilder(ServiceDatabase, func(c *Container) (interface{}, error) {
		db, err := sqlstore.NewDatabase(p.config.Database)
		if err != nil {
			return nil, err
		}
		if err := db.Open(context.Background()); err != nil {
			return nil, err
		}
		return db, nil
	})

	p.container.RegisterBuilder(ServiceArchive, func(c *Container) (interface{}, error) {
		backend, err := eventarchive.CreateBackend(p.config.Archive.Backend, p.config.Archive)
		if err != nil {
			return nil, err
		}
		if err := backend.Open(); err != nil {
			return nil, err
		}
		return backend, nil
	})

	p.container.RegisterBuilder(ServiceIdempotency, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		return idempotency.NewStore(db.Repositories().Idempotency), nil
	})
}

func (p *Provider) registerEventBuilders() {
	p.container.RegisterBuilder(ServiceEventQueue, func(c *Container) (interface{}, error) {
		archive, err := c.Get(ServiceArchive)
		if err != nil {
			return nil, err
		}
		// Delivery target is deployment-specific; the default publisher
		// writes the event name to the process log so the spool drains.
		publisher := events.PublisherFunc(func(ctx context.Context, rec *relationaldb.EventRecord) error {
			log.Printf("[events] %s %s/%s", rec.Name, rec.EntityType, rec.EntityID)
			return nil
		})
		return events.NewQueue(archive.(eventarchive.Backend), publisher), nil
	})

	p.container.RegisterBuilder(ServiceEventSink, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		queue, err := c.Get(ServiceEventQueue)
		if err != nil {
			return nil, err
		}
		return events.NewSink(db.Repositories().Events, queue.(*events.Queue)), nil
	})

	p.container.RegisterBuilder(ServiceMetrics, func(c *Container) (interface{}, error) {
		return prometheus.NewRegistry(), nil
	})
}

func (p *Provider) registerCoreBuilders() {
	p.container.RegisterBuilder(ServicePostingEngine, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		sink, err := p.sink(c)
		if err != nil {
			return nil, err
		}
		registry, err := c.Get(ServiceMetrics)
		if err != nil {
			return nil, err
		}
		metrics := posting.NewMetrics(registry.(*prometheus.Registry))
		return posting.NewEngine(db, sink, metrics, p.config.Posting)
	})

	p.container.RegisterBuilder(ServiceReversals, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		engine, err := c.Get(ServicePostingEngine)
		if err != nil {
			return nil, err
		}
		sink, err := p.sink(c)
		if err != nil {
			return nil, err
		}
		return reversal.NewPipeline(db, engine.(*posting.Engine), sink), nil
	})

	p.container.RegisterBuilder(ServiceReconEngine, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		sink, err := p.sink(c)
		if err != nil {
			return nil, err
		}
		threshold, err := p.config.SuspenseThreshold()
		if err != nil {
			return nil, err
		}
		return recon.NewEngine(db, sink, recon.Config{
			SuspenseThreshold: threshold,
			Concurrency:       p.config.Recon.Concurrency,
		}), nil
	})

	p.container.RegisterBuilder(ServiceReconMatcher, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		return recon.NewMatcher(db), nil
	})
}

func (p *Provider) registerGovernanceBuilders() {
	p.container.RegisterBuilder(ServicePolicyStore, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		return policy.NewPersistentStore(context.Background(), db)
	})

	p.container.RegisterBuilder(ServicePolicyEngine, func(c *Container) (interface{}, error) {
		store, err := c.Get(ServicePolicyStore)
		if err != nil {
			return nil, err
		}
		return policy.NewEngine(store.(*policy.Store)), nil
	})

	p.container.RegisterBuilder(ServiceWorkflow, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		engine, err := c.Get(ServicePolicyEngine)
		if err != nil {
			return nil, err
		}
		sink, err := p.sink(c)
		if err != nil {
			return nil, err
		}
		w := approval.NewWorkflow(engine.(*policy.Engine), db, sink)
		if err := w.Load(context.Background()); err != nil {
			return nil, err
		}

		pipeline, err := c.Get(ServiceReversals)
		if err != nil {
			return nil, err
		}
		w.Register(reversal.ApprovalTypeReversal, reversal.ApprovalHandler(pipeline.(*reversal.Pipeline)))
		w.Register(reversal.ApprovalTypeSuspenseFunding, reversal.SuspenseFundingHandler(pipeline.(*reversal.Pipeline)))
		return w, nil
	})

	p.container.RegisterBuilder(ServiceInterceptor, func(c *Container) (interface{}, error) {
		store, err := c.Get(ServicePolicyStore)
		if err != nil {
			return nil, err
		}
		workflow, err := c.Get(ServiceWorkflow)
		if err != nil {
			return nil, err
		}
		return approval.NewInterceptor(store.(*policy.Store), workflow.(*approval.Workflow)), nil
	})

	p.container.RegisterBuilder(ServiceFraudStore, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		return fraud.NewPersistentStore(context.Background(), db)
	})

	p.container.RegisterBuilder(ServiceFraudEval, func(c *Container) (interface{}, error) {
		store, err := c.Get(ServiceFraudStore)
		if err != nil {
			return nil, err
		}
		return fraud.NewEvaluator(store.(*fraud.Store), nil), nil
	})
}

func (p *Provider) registerServerBuilder() {
	p.container.RegisterBuilder(ServiceRESTServer, func(c *Container) (interface{}, error) {
		db, err := p.database(c)
		if err != nil {
			return nil, err
		}
		sink, err := p.sink(c)
		if err != nil {
			return nil, err
		}
		engine, err := c.Get(ServicePostingEngine)
		if err != nil {
			return nil, err
		}
		workflow, err := c.Get(ServiceWorkflow)
		if err != nil {
			return nil, err
		}
		fraudStore, err := c.Get(ServiceFraudStore)
		if err != nil {
			return nil, err
		}
		deps := rest.Deps{
			DB:          db,
			Engine:      engine.(*posting.Engine),
			Reversals:   c.MustGet(ServiceReversals).(*reversal.Pipeline),
			Policies:    c.MustGet(ServicePolicyStore).(*policy.Store),
			PolicyEval:  c.MustGet(ServicePolicyEngine).(*policy.Engine),
			Workflow:    workflow.(*approval.Workflow),
			Interceptor: c.MustGet(ServiceInterceptor).(*approval.Interceptor),
			Fraud:       fraudStore.(*fraud.Store),
			Evaluator:   c.MustGet(ServiceFraudEval).(*fraud.Evaluator),
			Recon:       c.MustGet(ServiceReconEngine).(*recon.Engine),
			Matcher:     c.MustGet(ServiceReconMatcher).(*recon.Matcher),
			Idem:        c.MustGet(ServiceIdempotency).(*idempotency.Store),
			Sink:        sink,
			Registry:    c.MustGet(ServiceMetrics).(*prometheus.Registry),
		}
		return rest.NewServer(p.config.Server, deps), nil
	})
}

func (p *Provider) database(c *Container) (relationaldb.Database, error) {
	db, err := c.Get(ServiceDatabase)
	if err != nil {
		return nil, err
	}
	return db.(relationaldb.Database), nil
}

func (p *Provider) sink(c *Container) (*events.Sink, error) {
	s, err := c.Get(ServiceEventSink)
	if err != nil {
		return nil, err
	}
	return s.(*events.Sink), nil
}
