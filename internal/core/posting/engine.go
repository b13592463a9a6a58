// Package posting implements the serialized posting engine. Each domain key
// owns one goroutine with a FIFO inbox, so for a given key at most one
// command executes at a time and later callers observe earlier effects.
package posting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/ledger"
	"github.com/fnyamweya/caricash-nova-sub003/internal/events"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/idempotency"
	"github.com/fnyamweya/caricash-nova-sub003/internal/storage/relationaldb"
)

// Config tunes the engine.
type Config struct {
	// InboxDepth is the per-key queue capacity; a full inbox fails fast
	// with ErrQueueFull.
	InboxDepth int `mapstructure:"inbox_depth"`
	// AccountCacheSize bounds the resolved-account LRU.
	AccountCacheSize int `mapstructure:"account_cache_size"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{InboxDepth: 64, AccountCacheSize: 4096}
}

type request struct {
	ctx  context.Context
	key  string
	cmd  *Command
	done chan response
}

type response struct {
	result *Result
	err    error
}

type actor struct {
	inbox chan *request
}

// Engine executes posting commands serialized per domain key.
type Engine struct {
	db      relationaldb.Database
	repos   *relationaldb.Repositories
	idem    *idempotency.Store
	sink    *events.Sink
	metrics *Metrics
	config  Config

	// accounts caches resolved accounts by id and by natural key. Entries
	// are added only after the creating transaction commits.
	accounts *lru.Cache[string, *ledger.Account]

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	wg     sync.WaitGroup

	queued atomic.Int64
}

// NewEngine creates an engine over an opened database.
func NewEngine(db relationaldb.Database, sink *events.Sink, metrics *Metrics, config Config) (*Engine, error) {
	if config.InboxDepth <= 0 {
		config.InboxDepth = DefaultConfig().InboxDepth
	}
	if config.AccountCacheSize <= 0 {
		config.AccountCacheSize = DefaultConfig().AccountCacheSize
	}
	cache, err := lru.New[string, *ledger.Account](config.AccountCacheSize)
	if err != nil {
		return nil, err
	}
	repos := db.Repositories()
	return &Engine{
		db:       db,
		repos:    repos,
		idem:     idempotency.NewStore(repos.Idempotency),
		sink:     sink,
		metrics:  metrics,
		config:   config,
		accounts: cache,
		actors:   make(map[string]*actor),
	}, nil
}

// Post enqueues the command on the domain key's inbox and waits for the
// outcome. Commands on the same key run in arrival order; a full inbox
// fails fast with ErrQueueFull.
func (e *Engine) Post(ctx context.Context, domainKey string, cmd *Command) (*Result, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	if domainKey == "" {
		domainKey = ledger.SingletonKey
	}

	a, err := e.actorFor(domainKey)
	if err != nil {
		return nil, err
	}
	req := &request{ctx: ctx, key: domainKey, cmd: cmd, done: make(chan response, 1)}
	select {
	case a.inbox <- req:
		e.queued.Add(1)
		if e.metrics != nil {
			e.metrics.QueueDepth.Inc()
		}
	default:
		if e.metrics != nil {
			e.metrics.Rejected.Inc()
		}
		return nil, ErrQueueFull
	}

	// The command may still execute after the caller gives up; retries
	// resolve through idempotency replay.
	select {
	case resp := <-req.done:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueueDepth reports commands waiting across all inboxes.
func (e *Engine) QueueDepth() int64 {
	return e.queued.Load()
}

// Close stops every actor after draining its inbox.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, a := range e.actors {
		close(a.inbox)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) actorFor(key string) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if a, ok := e.actors[key]; ok {
		return a, nil
	}
	a := &actor{inbox: make(chan *request, e.config.InboxDepth)}
	e.actors[key] = a
	e.wg.Add(1)
	go e.run(a)
	return a, nil
}

func (e *Engine) run(a *actor) {
	defer e.wg.Done()
	for req := range a.inbox {
		e.queued.Add(-1)
		if e.metrics != nil {
			e.metrics.QueueDepth.Dec()
		}
		start := time.Now()
		result, err := e.execute(req.ctx, req.key, req.cmd)
		if e.metrics != nil {
			e.metrics.Duration.Observe(time.Since(start).Seconds())
			if err != nil {
				e.metrics.Failed.WithLabelValues(req.cmd.TxnType).Inc()
			} else if !result.Replayed {
				e.metrics.Posted.WithLabelValues(req.cmd.TxnType).Inc()
			}
		}
		req.done <- response{result: result, err: err}
	}
}
