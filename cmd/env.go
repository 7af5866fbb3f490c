package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/mcp"
	"github.com/sells-group/lead-pipeline/internal/metrics"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/store"
	"github.com/sells-group/lead-pipeline/internal/tools"
	"github.com/sells-group/lead-pipeline/internal/worker"
	"github.com/sells-group/lead-pipeline/pkg/anthropic"
	sfpkg "github.com/sells-group/lead-pipeline/pkg/salesforce"
)

// env bundles the wired subsystems shared by the serve and worker commands.
type env struct {
	Store    store.Store
	Redis    *redis.Client
	Queue    *queue.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Breakers *resilience.ServiceBreakers
	Orch     *mcp.Orchestrator
	Worker   *worker.Worker
	DLQ      *worker.DLQProcessor
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leads.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "ping redis")
	}
	return client, nil
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADS_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RPS)), nil
}

func initExecutor() (tools.Executor, error) {
	switch strings.ToUpper(cfg.CRM.Provider) {
	case "MOCK", "":
		return tools.NewMockExecutor(), nil
	case "SALESFORCE":
		client, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return tools.NewSalesforceExecutor(client), nil
	default:
		return nil, eris.Errorf("unsupported CRM provider: %s", cfg.CRM.Provider)
	}
}

func initEnrichment() enrich.Provider {
	switch cfg.Enrichment.Provider {
	case "http":
		return enrich.NewHTTPProvider(cfg.Enrichment.BaseURL, cfg.Enrichment.Key,
			time.Duration(cfg.Enrichment.TimeoutSecs)*time.Second)
	default:
		// Local table for development; unknown domains resolve to nothing.
		return enrich.NewStaticProvider(map[string]*model.CompanyData{})
	}
}

// initPipeline wires the full worker environment.
func initPipeline(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	rdb, err := initRedis(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	q := queue.NewClient(rdb, queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Queue.BaseDelayMs) * time.Millisecond,
		LeaseTTL:    time.Duration(cfg.Queue.LeaseSecs) * time.Second,
	})

	executor, err := initExecutor()
	if err != nil {
		_ = st.Close()
		_ = rdb.Close()
		return nil, err
	}

	guard := mcp.NewSafetyGuard()
	toolRegistry := tools.NewRegistry(guard.CheckToolName)
	if err := tools.RegisterStandardTools(toolRegistry, executor); err != nil {
		_ = st.Close()
		_ = rdb.Close()
		return nil, err
	}

	provider := executor.Provider()
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig(),
		func(name string, to resilience.CircuitState) {
			operation := strings.TrimPrefix(name, provider+":")
			m.CircuitBreakerState.WithLabelValues(provider, operation).Set(to.GaugeValue())
		})

	limiterCfg := mcp.LimiterConfig{
		LeadLimit:    cfg.MCP.LeadLimit,
		AccountLimit: cfg.MCP.AccountLimit,
		GlobalLimit:  cfg.MCP.GlobalLimit,
		CRMLimit:     cfg.CRM.RateLimitRequests,
		Window:       time.Duration(cfg.MCP.LimitWindowSecs) * time.Second,
		CRMWindow:    time.Duration(cfg.CRM.RateLimitWindowSec) * time.Second,
	}

	orch := mcp.NewOrchestrator(
		toolRegistry,
		executor,
		guard,
		mcp.NewTieredLimiter(rdb, limiterCfg),
		mcp.NewIdempotencyStore(rdb,
			time.Duration(cfg.MCP.IdempotencyWindowM)*time.Minute,
			time.Duration(cfg.MCP.IdempotencyTTLH)*time.Hour),
		breakers,
		st,
		m,
	)

	analyzer := anthropic.NewAnalyzer(
		anthropic.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.Model,
		cfg.Anthropic.MaxTokens,
	)

	w := worker.New(worker.Config{
		QueueName:     cfg.Queue.Name,
		Concurrency:   cfg.Worker.Concurrency,
		JobTimeout:    time.Duration(cfg.Worker.JobTimeoutSecs) * time.Second,
		ShutdownGrace: time.Duration(cfg.Worker.ShutdownGraceS) * time.Second,
	}, q, st, analyzer, initEnrichment(), orch, m)

	dlq := worker.NewDLQProcessor(q, cfg.Queue.Name, st, m, 15*time.Second)

	return &env{
		Store:    st,
		Redis:    rdb,
		Queue:    q,
		Registry: registry,
		Metrics:  m,
		Breakers: breakers,
		Orch:     orch,
		Worker:   w,
		DLQ:      dlq,
	}, nil
}
