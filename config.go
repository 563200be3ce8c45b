package sqlward

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool     PoolConfig     `json:"pool"`
	Query    QueryConfig    `json:"query"`
	Write    WriteConfig    `json:"write"`
	Guidance []GuidanceRule `json:"guidance"`
	ReadOnly bool           `json:"read_only"`
	Timezone string         `json:"timezone"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	AI         AIConfig         `json:"ai"`
}

// ConnectionConfig holds database connection parameters used by CLI mode.
type ConnectionConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DBName  string `json:"dbname"`
	SSLMode string `json:"sslmode"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns"`
	MinConns          int    `json:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period"`
}

// QueryConfig holds validation and execution settings.
type QueryConfig struct {
	// DefaultTimeoutSeconds bounds statement execution unless a TimeoutRule
	// matches.
	DefaultTimeoutSeconds int `json:"default_timeout_seconds"`
	// SchemaTimeoutSeconds bounds catalog introspection queries.
	SchemaTimeoutSeconds int `json:"schema_timeout_seconds"`
	// MaxQueryResults is the hard row ceiling; larger LIMITs are clamped.
	MaxQueryResults int `json:"max_query_results"`
	// DefaultQueryLimit is injected into SELECTs that carry no LIMIT.
	DefaultQueryLimit int `json:"default_query_limit"`
	// MaxSQLLength rejects oversized statements before any parsing.
	MaxSQLLength int `json:"max_sql_length"`
	// MaxResultLength truncates serialized result rows (in characters).
	MaxResultLength int `json:"max_result_length"`
	// StrictValidation enables the lenient injection patterns as blockers.
	StrictValidation bool `json:"strict_validation"`
	// StrictIntentCheck escalates weak intent mismatches to warnings.
	StrictIntentCheck bool          `json:"strict_intent_check"`
	TimeoutRules      []TimeoutRule `json:"timeout_rules"`
}

// WriteConfig holds settings for the destructive-write workflow.
type WriteConfig struct {
	// AuditTable receives one audit record per committed delete.
	AuditTable string `json:"audit_table"`
	// PerformedBy is recorded as the audit actor.
	PerformedBy string `json:"performed_by"`
	// MatchLimit bounds the candidate lookup for single-target requests.
	MatchLimit int `json:"match_limit"`
}

// AIConfig holds LLM collaborator settings for CLI mode.
type AIConfig struct {
	// URL of the Ollama server, e.g. "http://localhost:11434".
	URL string `json:"url"`
	// Model name, e.g. "llama3.1".
	Model string `json:"model"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Port               int    `json:"port"`
	MCPEnabled         bool   `json:"mcp_enabled"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, stderr, or file path
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// GuidanceRule maps an error message pattern to operator guidance.
type GuidanceRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}
