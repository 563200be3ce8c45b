package sqlward

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mhollas/sqlward/internal/exec"
	"github.com/mhollas/sqlward/internal/guidance"
	"github.com/mhollas/sqlward/internal/timeout"
	"github.com/mhollas/sqlward/internal/validate"
	"github.com/mhollas/sqlward/internal/writeflow"
)

// Generator is the LLM collaborator. The engine depends only on this
// interface; the ollama package provides the default implementation.
type Generator interface {
	// GenerateSQL turns a natural-language question into one SQL statement
	// plus a short explanation.
	GenerateSQL(ctx context.Context, question, schemaContext string) (*GeneratedSQL, error)
	// GeneratePlan turns a compound request into an ordered multi-step
	// plan. A single-step plan means the request was simple after all.
	GeneratePlan(ctx context.Context, question, schemaContext string) (*QueryPlan, error)
	// DeriveWhere turns a target description into a "WHERE ..." fragment
	// in standard SQL.
	DeriveWhere(ctx context.Context, request, schemaContext string) (string, error)
}

// Engine is the guarded query engine: every statement, generated or
// hand-written, passes the sanitizer, the parser-backed validator, and the
// bounded executor before it reaches the pool. All exported methods are safe
// for concurrent use from multiple goroutines.
type Engine struct {
	config     Config
	pool       *pgxpool.Pool
	semaphore  chan struct{}
	validator  *validate.Validator
	executor   *exec.Executor
	timeoutMgr *timeout.Manager
	guidance   *guidance.Matcher
	generator  Generator
	logger     zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	generator Generator
}

// WithGenerator attaches the LLM collaborator. Without it, Ask and the write
// workflow return a configuration error; direct SQL execution still works.
func WithGenerator(g Generator) Option {
	return func(o *options) {
		o.generator = g
	}
}

// New creates a new Engine.
// connString is the PostgreSQL connection string (must include credentials).
// Panics on invalid config. Returns error only for runtime failures (e.g.,
// pool creation).
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if connString == "" {
		panic("sqlward: connString must be non-empty")
	}
	if config.Pool.MaxConns <= 0 {
		panic("sqlward: pool.max_conns must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		panic("sqlward: query.default_timeout_seconds must be > 0")
	}

	// Apply defaults for zero values
	if config.Query.SchemaTimeoutSeconds == 0 {
		config.Query.SchemaTimeoutSeconds = 10
	}
	if config.Query.MaxQueryResults == 0 {
		config.Query.MaxQueryResults = 100
	}
	if config.Query.DefaultQueryLimit == 0 {
		config.Query.DefaultQueryLimit = 50
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.SchemaTimeoutSeconds < 0 {
		panic("sqlward: query.schema_timeout_seconds must be > 0")
	}
	if config.Query.MaxSQLLength < 0 {
		panic("sqlward: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("sqlward: query.max_result_length must be > 0")
	}
	if config.Write.MatchLimit == 0 {
		config.Write.MatchLimit = 10
	}
	if config.Write.AuditTable == "" {
		config.Write.AuditTable = "audit_log"
	}
	if config.Write.PerformedBy == "" {
		config.Write.PerformedBy = "api_user"
	}

	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("sqlward: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Configure pgxpool ---

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.Pool.MaxConns)
	poolConfig.MinConns = int32(config.Pool.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	// Parse pool duration strings
	if config.Pool.MaxConnLifetime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnLifetime)
		if err != nil {
			panic(fmt.Sprintf("sqlward: invalid pool.max_conn_lifetime %q: %v", config.Pool.MaxConnLifetime, err))
		}
		poolConfig.MaxConnLifetime = d
	}
	if config.Pool.MaxConnIdleTime != "" {
		d, err := time.ParseDuration(config.Pool.MaxConnIdleTime)
		if err != nil {
			panic(fmt.Sprintf("sqlward: invalid pool.max_conn_idle_time %q: %v", config.Pool.MaxConnIdleTime, err))
		}
		poolConfig.MaxConnIdleTime = d
	}
	if config.Pool.HealthCheckPeriod != "" {
		d, err := time.ParseDuration(config.Pool.HealthCheckPeriod)
		if err != nil {
			panic(fmt.Sprintf("sqlward: invalid pool.health_check_period %q: %v", config.Pool.HealthCheckPeriod, err))
		}
		poolConfig.HealthCheckPeriod = d
	}

	// Set AfterConnect hook for session-level settings
	if config.ReadOnly || config.Timezone != "" {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if config.ReadOnly {
				if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
					return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
				}
			}
			if config.Timezone != "" {
				escaped := strings.ReplaceAll(config.Timezone, "'", "''")
				if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
					return fmt.Errorf("failed to SET timezone: %w", err)
				}
			}
			return nil
		}
	}

	// --- Create pool ---

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// --- Initialize internal components ---

	defaultTimeout := time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second

	validator := validate.NewValidator(validate.Config{
		MaxQueryResults:   config.Query.MaxQueryResults,
		DefaultQueryLimit: config.Query.DefaultQueryLimit,
	}, logger)

	executor := exec.NewExecutor(defaultTimeout, logger)

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr := timeout.NewManager(timeout.Config{
		DefaultTimeout: defaultTimeout,
		Rules:          timeoutRules,
	})

	guidanceRules := guidance.DefaultRules()
	for _, r := range config.Guidance {
		guidanceRules = append(guidanceRules, guidance.Rule{Pattern: r.Pattern, Message: r.Message})
	}
	matcher, err := guidance.NewMatcher(guidanceRules)
	if err != nil {
		panic(fmt.Sprintf("sqlward: %v", err))
	}

	return &Engine{
		config:     config,
		pool:       pool,
		semaphore:  make(chan struct{}, config.Pool.MaxConns),
		validator:  validator,
		executor:   executor,
		timeoutMgr: tmgr,
		guidance:   matcher,
		generator:  o.generator,
		logger:     logger,
	}, nil
}

// Ping verifies database connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Close closes the connection pool. Accepts context for API
// forward-compatibility; pgxpool.Pool.Close() does not support
// context-based shutdown.
func (e *Engine) Close(ctx context.Context) {
	e.pool.Close()
}

// acquireSlot takes one semaphore slot, respecting context cancellation to
// prevent deadlock when all slots are busy.
func (e *Engine) acquireSlot(ctx context.Context, op string) error {
	select {
	case e.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w",
			op, cap(e.semaphore), ctx.Err())
	}
}

func (e *Engine) releaseSlot() {
	<-e.semaphore
}

// requireGenerator returns the collaborator or a configuration error when
// the engine was constructed without one.
func (e *Engine) requireGenerator() (Generator, error) {
	if e.generator == nil {
		return nil, newConfigError("no SQL generator configured; natural-language operations are unavailable")
	}
	return e.generator, nil
}

// writeWorkflow builds the per-table workflow for destructive requests.
func (e *Engine) writeWorkflow(table, keyColumn string, previewColumns []string, deriver writeflow.WhereDeriver) *writeflow.Workflow {
	return writeflow.New(writeflow.Config{
		Table:          table,
		KeyColumn:      keyColumn,
		PreviewColumns: previewColumns,
		MatchLimit:     e.config.Write.MatchLimit,
		AuditTable:     e.config.Write.AuditTable,
		PerformedBy:    e.config.Write.PerformedBy,
	}, deriver, e.logger)
}
