package config

// Config is the root configuration structure for dupescan.
// Serialised to ~/.dupescan/config.json.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"  json:"database"`
	Chat      ChatConfig      `mapstructure:"chat"      json:"chat"`
	Embedding EmbeddingConfig `mapstructure:"embedding" json:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"    json:"vector"`
	Git       GitConfig       `mapstructure:"git"       json:"git"`
	Worker    WorkerConfig    `mapstructure:"worker"    json:"worker"`
	Detect    DetectConfig    `mapstructure:"detect"    json:"detect"`
	Gateway   GatewayConfig   `mapstructure:"gateway"   json:"gateway"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// ChatConfig controls the default chat provider used for intent extraction,
// pairwise verification and ranking. Accounts may override any field via
// their provider blob.
type ChatConfig struct {
	// Provider is "anthropic", "openai" or "ollama".
	Provider     string `mapstructure:"provider"          json:"provider"`
	AnthropicKey string `mapstructure:"anthropic_api_key" json:"anthropic_api_key"`
	OpenAIKey    string `mapstructure:"openai_api_key"    json:"openai_api_key"`
	Model        string `mapstructure:"model"             json:"model"`
	// BaseURL overrides the API endpoint (useful for proxies).
	BaseURL string `mapstructure:"base_url"   json:"base_url"`
	// OllamaURL is used when Provider == "ollama".
	OllamaURL string `mapstructure:"ollama_url" json:"ollama_url"`
	// UseBatch submits prompts through the provider's async batch API when
	// the provider supports one.
	UseBatch bool `mapstructure:"use_batch" json:"use_batch"`
}

// EmbeddingConfig controls the default embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" (default) or "ollama".
	Provider  string `mapstructure:"provider"       json:"provider"`
	OpenAIKey string `mapstructure:"openai_api_key" json:"openai_api_key"`
	Model     string `mapstructure:"model"          json:"model"`
	BaseURL   string `mapstructure:"base_url"       json:"base_url"`
	OllamaURL string `mapstructure:"ollama_url"     json:"ollama_url"`
	UseBatch  bool   `mapstructure:"use_batch"      json:"use_batch"`
}

// VectorConfig controls the vector similarity store.
type VectorConfig struct {
	// Provider is "qdrant" (default) or "memory" (non-durable, dev only).
	Provider string `mapstructure:"provider" json:"provider"`
	URL      string `mapstructure:"url"      json:"url"`
	APIKey   string `mapstructure:"api_key"  json:"api_key"`
}

// GitConfig holds credentials for each supported code-host platform.
type GitConfig struct {
	GitHub []GitHubConfig `mapstructure:"github" json:"github"`
	GitLab []GitLabConfig `mapstructure:"gitlab" json:"gitlab"`
}

// GitHubConfig holds credentials for a single GitHub instance.
type GitHubConfig struct {
	Token string `mapstructure:"token" json:"token"`
	// Host allows enterprise GitHub (e.g. github.mycompany.com).
	Host string `mapstructure:"host"  json:"host"`
}

// GitLabConfig holds credentials for a single GitLab instance.
type GitLabConfig struct {
	Token string `mapstructure:"token" json:"token"`
	Host  string `mapstructure:"host"  json:"host"`
}

// WorkerConfig controls the job-queue worker pool.
type WorkerConfig struct {
	// Count is the number of parallel worker goroutines.
	Count int `mapstructure:"count" json:"count"`
	// PollInterval is the queue polling interval in seconds.
	PollInterval int `mapstructure:"poll_interval" json:"poll_interval"`
	// MaxRetries is the default retry budget for enqueued jobs.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	// StaleAfter is the liveness-sweep threshold in minutes: running jobs
	// older than this are assumed orphaned by a dead worker and requeued.
	StaleAfter int `mapstructure:"stale_after" json:"stale_after"`
}

// DetectConfig tunes the candidate search and verification phases.
type DetectConfig struct {
	// MaxPRs caps how many open PRs a full ingest fetches.
	MaxPRs int `mapstructure:"max_prs" json:"max_prs"`
	// NeighborK is the number of nearest neighbors fetched per PR.
	NeighborK int `mapstructure:"neighbor_k" json:"neighbor_k"`
	// IntentThreshold is the minimum intent-vector similarity for a
	// candidate pair.
	IntentThreshold float64 `mapstructure:"intent_threshold" json:"intent_threshold"`
	// CodeThreshold is the minimum code-vector similarity for a candidate
	// pair surfaced from the code collection.
	CodeThreshold float64 `mapstructure:"code_threshold" json:"code_threshold"`
}

// GatewayConfig controls the persistent gateway daemon.
type GatewayConfig struct {
	// Port is the localhost HTTP port the gateway listens on (default: 6090).
	Port int `mapstructure:"port" json:"port"`
}
