package configure

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mhollas/sqlward"
)

// validExistingConfig returns a ServerConfig with all promptPositiveInt fields
// set to valid values, so pressing Enter preserves them without validation errors.
func validExistingConfig() *sqlward.ServerConfig {
	cfg := &sqlward.ServerConfig{}
	cfg.Connection.Host = "localhost"
	cfg.Connection.Port = 5432
	cfg.Connection.DBName = "testdb"
	cfg.Connection.SSLMode = "prefer"
	cfg.Server.Port = 8080
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"
	cfg.Pool.MaxConns = 5
	cfg.Query.DefaultTimeoutSeconds = 30
	cfg.Query.SchemaTimeoutSeconds = 10
	cfg.Query.MaxQueryResults = 100
	cfg.Query.DefaultQueryLimit = 50
	cfg.Query.MaxSQLLength = 100000
	cfg.Query.MaxResultLength = 100000
	cfg.Write.AuditTable = "audit_log"
	cfg.Write.PerformedBy = "api_user"
	cfg.Write.MatchLimit = 10
	return cfg
}

// allEnterInputs returns enough empty lines to accept defaults for every prompt
// in the wizard. Each empty line means "accept current/default value".
//
// Prompt index map:
//
//	0-3:   connection (host, port, dbname, sslmode)
//	4-7:   server (port, mcp_enabled, health_check_enabled, health_check_path)
//	8-9:   ai (url, model)
//	10-12: logging (level, format, output)
//	13-17: pool (max_conns, min_conns, max_conn_lifetime, max_conn_idle_time, health_check_period)
//	18-25: query (default_timeout, schema_timeout, max_query_results, default_query_limit, max_sql_length, max_result_length, strict_validation, strict_intent_check)
//	26-28: write (audit_table, performed_by, match_limit)
//	29-30: general (read_only, timezone)
//	31-32: array editors (timeout_rules, guidance_rules)
func allEnterInputs(overrides map[int]string) string {
	lines := make([]string, 33)
	for i := range lines {
		lines[i] = ""
	}
	// Array editors need "c" to continue (indices 31-32)
	lines[31] = "c"
	lines[32] = "c"
	for k, v := range overrides {
		lines[k] = v
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestRunNewConfigShowsDefaultLabel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	// connection.dbname (index 2) is required and has no default for new configs.
	input := allEnterInputs(map[int]string{2: "testdb"})
	var output bytes.Buffer

	err := run(configPath, strings.NewReader(input), &output)
	if err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	out := output.String()

	// New config should show "default" labels, not "current"
	if strings.Contains(out, "(current:") {
		t.Errorf("new config should use 'default' label, but found 'current' in output:\n%s", out)
	}
	if !strings.Contains(out, "(default:") {
		t.Errorf("new config should contain 'default' label, output:\n%s", out)
	}

	if !strings.Contains(out, `(default: "localhost")`) {
		t.Errorf("expected default host 'localhost' in output")
	}
	if !strings.Contains(out, "(default: 5432)") {
		t.Errorf("expected default port 5432 in output")
	}
	if !strings.Contains(out, `(default: "prefer"`) {
		t.Errorf("expected default sslmode 'prefer' in output")
	}
	if !strings.Contains(out, "(default: 8080)") {
		t.Errorf("expected default server port 8080 in output")
	}
	if !strings.Contains(out, `(default: "http://localhost:11434")`) {
		t.Errorf("expected default ollama url in output")
	}
	if !strings.Contains(out, `(default: "audit_log")`) {
		t.Errorf("expected default audit table in output")
	}

	hints := []struct {
		hint string
		desc string
	}{
		{"[required]", "connection.dbname required hint"},
		{"[must be > 0]", "connection.port/server.port/pool.max_conns hint"},
		{"[must be >= 0]", "pool.min_conns hint"},
		{"[e.g. /healthz, required when health_check_enabled is true]", "health_check_path hint"},
		{"[Ollama endpoint, e.g. http://localhost:11434]", "ai.url hint"},
		{"[stdout, stderr, or file path]", "logging.output hint"},
		{"[Go duration: e.g. 1h, 30m, 1h30m]", "pool duration hint"},
		{"[seconds, must be > 0]", "timeout seconds hint"},
		{"[bytes, must be > 0]", "max_sql_length hint"},
		{"[characters, must be > 0]", "max_result_length hint"},
		{"[candidate cap, must be > 0]", "write.match_limit hint"},
		{"[e.g. UTC, America/New_York, empty = server default]", "timezone hint"},
	}
	for _, h := range hints {
		if !strings.Contains(out, h.hint) {
			t.Errorf("expected %s %q in output", h.desc, h.hint)
		}
	}
}

func TestRunNewConfigDefaultsWrittenToFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	input := allEnterInputs(map[int]string{2: "testdb"})
	var output bytes.Buffer

	err := run(configPath, strings.NewReader(input), &output)
	if err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}

	var cfg sqlward.ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to unmarshal config: %v", err)
	}

	if cfg.Connection.Host != "localhost" {
		t.Errorf("expected host 'localhost', got %q", cfg.Connection.Host)
	}
	if cfg.Connection.Port != 5432 {
		t.Errorf("expected port 5432, got %d", cfg.Connection.Port)
	}
	if cfg.Connection.DBName != "testdb" {
		t.Errorf("expected dbname 'testdb', got %q", cfg.Connection.DBName)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.AI.URL != "http://localhost:11434" {
		t.Errorf("expected ollama url, got %q", cfg.AI.URL)
	}
	if cfg.Pool.MaxConns != 5 {
		t.Errorf("expected max_conns 5, got %d", cfg.Pool.MaxConns)
	}
	if cfg.Query.DefaultTimeoutSeconds != 30 {
		t.Errorf("expected default_timeout_seconds 30, got %d", cfg.Query.DefaultTimeoutSeconds)
	}
	if cfg.Query.SchemaTimeoutSeconds != 10 {
		t.Errorf("expected schema_timeout_seconds 10, got %d", cfg.Query.SchemaTimeoutSeconds)
	}
	if cfg.Query.MaxQueryResults != 100 {
		t.Errorf("expected max_query_results 100, got %d", cfg.Query.MaxQueryResults)
	}
	if cfg.Query.DefaultQueryLimit != 50 {
		t.Errorf("expected default_query_limit 50, got %d", cfg.Query.DefaultQueryLimit)
	}
	if cfg.Write.AuditTable != "audit_log" {
		t.Errorf("expected audit_table 'audit_log', got %q", cfg.Write.AuditTable)
	}
	if cfg.Write.PerformedBy != "api_user" {
		t.Errorf("expected performed_by 'api_user', got %q", cfg.Write.PerformedBy)
	}
	if cfg.Write.MatchLimit != 10 {
		t.Errorf("expected match_limit 10, got %d", cfg.Write.MatchLimit)
	}
}

func TestRunExistingConfigShowsCurrentLabel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	existing := validExistingConfig()
	existing.Connection.Host = "myhost"
	existing.Connection.Port = 5433
	existing.Connection.DBName = "mydb"
	existing.Connection.SSLMode = "require"
	data, _ := json.Marshal(existing)
	os.WriteFile(configPath, data, 0644)

	input := allEnterInputs(nil)
	var output bytes.Buffer

	err := run(configPath, strings.NewReader(input), &output)
	if err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	out := output.String()

	if strings.Contains(out, "(default:") {
		t.Errorf("existing config should use 'current' label, but found 'default' in output:\n%s", out)
	}
	if !strings.Contains(out, `(current: "myhost")`) {
		t.Errorf("expected current host 'myhost' in output")
	}
	if !strings.Contains(out, "(current: 5433)") {
		t.Errorf("expected current port 5433 in output")
	}
}

func TestRunExistingConfigPreservesValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	existing := validExistingConfig()
	existing.Connection.Host = "prodhost"
	existing.Connection.DBName = "proddb"
	existing.Connection.SSLMode = "require"
	existing.Server.Port = 9090
	existing.Write.PerformedBy = "batch_runner"
	data, _ := json.Marshal(existing)
	os.WriteFile(configPath, data, 0644)

	input := allEnterInputs(nil)
	var output bytes.Buffer

	err := run(configPath, strings.NewReader(input), &output)
	if err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	data, _ = os.ReadFile(configPath)
	var cfg sqlward.ServerConfig
	json.Unmarshal(data, &cfg)

	if cfg.Connection.Host != "prodhost" {
		t.Errorf("expected preserved host 'prodhost', got %q", cfg.Connection.Host)
	}
	if cfg.Connection.SSLMode != "require" {
		t.Errorf("expected preserved sslmode 'require', got %q", cfg.Connection.SSLMode)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected preserved server port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Write.PerformedBy != "batch_runner" {
		t.Errorf("expected preserved performed_by 'batch_runner', got %q", cfg.Write.PerformedBy)
	}
}

func TestPromptEnumShowsOptionsInPrompt(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{
		scanner: newScanner("require\n"),
		output:  &output,
		isNew:   true,
	}

	result := p.promptEnum("connection.sslmode", "prefer", sslModes)

	if result != "require" {
		t.Errorf("expected 'require', got %q", result)
	}

	out := output.String()
	if !strings.Contains(out, "options: disable, allow, prefer, require, verify-ca, verify-full") {
		t.Errorf("expected options list in output, got: %s", out)
	}
}

func TestPromptEnumRejectsInvalidValue(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{
		scanner: newScanner("invalid\nrequire\n"),
		output:  &output,
		isNew:   false,
	}

	result := p.promptEnum("connection.sslmode", "prefer", sslModes)

	if result != "require" {
		t.Errorf("expected 'require', got %q", result)
	}

	out := output.String()
	if !strings.Contains(out, `Invalid value "invalid", must be one of: disable, allow, prefer, require, verify-ca, verify-full`) {
		t.Errorf("expected invalid value error message, got: %s", out)
	}
}

func TestPromptEnumAcceptsEmptyForDefault(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{
		scanner: newScanner("\n"),
		output:  &output,
		isNew:   true,
	}

	result := p.promptEnum("logging.level", "info", logLevels)

	if result != "info" {
		t.Errorf("expected default 'info', got %q", result)
	}
}

func TestPromptPositiveIntRejectsZeroThenAccepts(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{scanner: newScanner("0\n5\n"), output: &output, isNew: true}

	result := p.promptPositiveInt("pool.max_conns", 5, "must be > 0")

	if result != 5 {
		t.Errorf("expected 5, got %d", result)
	}
	out := output.String()
	if !strings.Contains(out, "Value must be > 0") {
		t.Errorf("expected > 0 error message, got: %s", out)
	}
}

func TestPromptPositiveIntRejectsNonIntegerThenAccepts(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{scanner: newScanner("abc\n42\n"), output: &output, isNew: true}

	result := p.promptPositiveInt("server.port", 8080, "must be > 0")

	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
	out := output.String()
	if !strings.Contains(out, `Invalid integer "abc"`) {
		t.Errorf("expected invalid integer error, got: %s", out)
	}
}

func TestPromptNonNegativeIntRejectsNegativeThenAccepts(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{scanner: newScanner("-1\n2\n"), output: &output, isNew: true}

	result := p.promptNonNegativeInt("pool.min_conns", 0, "must be >= 0")

	if result != 2 {
		t.Errorf("expected 2, got %d", result)
	}
	out := output.String()
	if !strings.Contains(out, "Value must be >= 0") {
		t.Errorf("expected >= 0 error message, got: %s", out)
	}
}

func TestPromptBoolRejectsInvalidThenAccepts(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{scanner: newScanner("maybe\ntrue\n"), output: &output, isNew: true}

	result := p.promptBool("read_only", false)

	if result != true {
		t.Errorf("expected true, got %v", result)
	}
	out := output.String()
	if !strings.Contains(out, `Invalid value "maybe"`) {
		t.Errorf("expected invalid boolean error, got: %s", out)
	}
	if !strings.Contains(out, "use true/false/yes/no") {
		t.Errorf("expected guidance on valid values, got: %s", out)
	}
}

func TestPromptDurationRejectsInvalidThenAccepts(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{scanner: newScanner("notaduration\n30m\n"), output: &output, isNew: true}

	result := p.promptDuration("pool.max_conn_idle_time", "30m", "Go duration: e.g. 1h, 30m, 1h30m")

	if result != "30m" {
		t.Errorf("expected '30m', got %q", result)
	}
	out := output.String()
	if !strings.Contains(out, `Invalid Go duration "notaduration"`) {
		t.Errorf("expected invalid duration error, got: %s", out)
	}
}

func TestPromptTimezoneRejectsInvalidThenAcceptsValid(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{
		scanner: newScanner("NotATimezone\nAmerica/New_York\n"),
		output:  &output,
		isNew:   true,
	}

	result := p.promptTimezone("")

	if result != "America/New_York" {
		t.Errorf("expected 'America/New_York', got %q", result)
	}

	out := output.String()
	if !strings.Contains(out, `Invalid timezone "NotATimezone"`) {
		t.Errorf("expected invalid timezone error, got: %s", out)
	}
}

func TestPromptNewRegexFieldRejectsInvalidThenAccepts(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{scanner: newScanner("[invalid\n.*valid.*\n"), output: &output, isNew: true}

	result := p.promptNewRegexField("pattern")

	if result != ".*valid.*" {
		t.Errorf("expected '.*valid.*', got %q", result)
	}
	out := output.String()
	if !strings.Contains(out, `Invalid regex "[invalid"`) {
		t.Errorf("expected invalid regex error, got: %s", out)
	}
}

func TestPromptTimeoutRulesAddAndRemove(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{
		scanner: newScanner("a\n(?i)pg_sleep\n120\nr\n0\nc\n"),
		output:  &output,
		isNew:   true,
	}

	rules := p.promptTimeoutRules(nil)

	if len(rules) != 0 {
		t.Errorf("expected 0 rules after add then remove, got %d", len(rules))
	}
	out := output.String()
	if !strings.Contains(out, `pattern="(?i)pg_sleep" timeout_seconds=120`) {
		t.Errorf("expected added rule displayed before removal, got: %s", out)
	}
}

func TestPromptGuidanceRulesAdd(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	p := &prompter{
		scanner: newScanner("a\ndeadlock detected\nRetry the statement after a short delay.\nc\n"),
		output:  &output,
		isNew:   true,
	}

	rules := p.promptGuidanceRules(nil)

	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Pattern != "deadlock detected" {
		t.Errorf("expected pattern 'deadlock detected', got %q", rules[0].Pattern)
	}
	if rules[0].Message != "Retry the statement after a short delay." {
		t.Errorf("unexpected message %q", rules[0].Message)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := &sqlward.ServerConfig{}
	applyDefaults(cfg)

	if cfg.Connection.Host != "localhost" {
		t.Errorf("expected host 'localhost', got %q", cfg.Connection.Host)
	}
	if cfg.Connection.Port != 5432 {
		t.Errorf("expected port 5432, got %d", cfg.Connection.Port)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.AI.Model != "" {
		t.Errorf("expected empty default model, got %q", cfg.AI.Model)
	}
	if cfg.Query.DefaultQueryLimit != 50 {
		t.Errorf("expected default_query_limit 50, got %d", cfg.Query.DefaultQueryLimit)
	}
	if cfg.Write.AuditTable != "audit_log" {
		t.Errorf("expected audit_table 'audit_log', got %q", cfg.Write.AuditTable)
	}

	// Fields that should NOT have defaults
	if cfg.Connection.DBName != "" {
		t.Errorf("expected empty dbname, got %q", cfg.Connection.DBName)
	}
	if cfg.Timezone != "" {
		t.Errorf("expected empty timezone, got %q", cfg.Timezone)
	}
	if cfg.ReadOnly != false {
		t.Errorf("expected read_only false, got %v", cfg.ReadOnly)
	}
}

func TestLoadExistingNewFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "nonexistent.json")

	cfg, isNew := loadExisting(configPath)
	if !isNew {
		t.Error("expected isNew=true for nonexistent file")
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
}

func TestLoadExistingExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	existing := &sqlward.ServerConfig{}
	existing.Connection.Host = "testhost"
	data, _ := json.Marshal(existing)
	os.WriteFile(configPath, data, 0644)

	cfg, isNew := loadExisting(configPath)
	if isNew {
		t.Error("expected isNew=false for existing file")
	}
	if cfg.Connection.Host != "testhost" {
		t.Errorf("expected host 'testhost', got %q", cfg.Connection.Host)
	}
}

func newScanner(input string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(input))
}
