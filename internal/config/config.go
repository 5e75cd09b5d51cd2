// Package config loads engine configuration from a TOML file, falling
// back to defaults when no file exists.
package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Search    SearchConfig    `toml:"search"`
	Loader    LoaderConfig    `toml:"loader"`
	Sync      SyncConfig      `toml:"sync"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// DataDir holds the database file and its WAL journal. Defaults to
	// ~/.passage/data.
	DataDir string `toml:"data_dir"`

	// NodeID identifies this node in causal timestamps.
	NodeID uint16 `toml:"node_id"`

	// PoolSize bounds concurrent read connections.
	PoolSize int `toml:"pool_size"`

	// BusyTimeoutMS is the engine lock acquisition timeout.
	BusyTimeoutMS int `toml:"busy_timeout_ms"`
}

// EmbeddingConfig configures the embedder adapter.
type EmbeddingConfig struct {
	// BaseURL is the inference server address.
	BaseURL string `toml:"base_url"`

	// Model is the embedding model name.
	Model string `toml:"model"`

	// Dimensions is the vector width.
	Dimensions int `toml:"dimensions"`

	// BatchSize bounds texts per inference request.
	BatchSize int `toml:"batch_size"`
}

// ChunkingConfig sets the default chunking bounds; per-collection
// settings override them.
type ChunkingConfig struct {
	MaxTokens     int `toml:"max_tokens"`
	MinTokens     int `toml:"min_tokens"`
	OverlapTokens int `toml:"overlap_tokens"`
}

// SearchConfig sets the default query knobs.
type SearchConfig struct {
	DefaultTopK      int     `toml:"default_top_k"`
	VectorK          int     `toml:"vector_k"`
	KeywordK         int     `toml:"keyword_k"`
	RRFK             int     `toml:"rrf_k"`
	HybridAlpha      float64 `toml:"hybrid_alpha"`
	ExpandContext    bool    `toml:"expand_context"`
	MaxContextTokens int     `toml:"max_context_tokens"`
}

// LoaderConfig restricts the URI loaders.
type LoaderConfig struct {
	AllowedBasePath   string   `toml:"allowed_base_path"`
	AllowedDomains    []string `toml:"allowed_domains"`
	MaxFetchBytes     int64    `toml:"max_fetch_bytes"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// SyncConfig configures the replication collaborator.
type SyncConfig struct {
	Enabled      bool         `toml:"enabled"`
	IntervalSecs int          `toml:"interval_secs"`
	BindAddress  string       `toml:"bind_address"`
	Peers        []PeerConfig `toml:"peers"`
}

// PeerConfig names one replication peer.
type PeerConfig struct {
	ID       string `toml:"id"`
	Endpoint string `toml:"endpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			NodeID:        1,
			PoolSize:      8,
			BusyTimeoutMS: 5000,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
		},
		Chunking: ChunkingConfig{
			MaxTokens:     domain.DefaultMaxChunkTokens,
			MinTokens:     domain.DefaultMinChunkTokens,
			OverlapTokens: domain.DefaultChunkOverlapTokens,
		},
		Search: SearchConfig{
			DefaultTopK:      10,
			VectorK:          50,
			KeywordK:         50,
			RRFK:             60,
			HybridAlpha:      domain.DefaultHybridAlpha,
			ExpandContext:    true,
			MaxContextTokens: 4000,
		},
		Sync: SyncConfig{
			IntervalSecs: 60,
			BindAddress:  "127.0.0.1:8765",
		},
	}
}

// Load reads configuration from path, layering the file's values over
// the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, domain.ErrIO(err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, domain.ErrInvalidArgument("parsing config: " + err.Error())
	}
	return cfg, nil
}

// LoadDefault looks for ~/.passage/config.toml, then passage.toml in the
// working directory.
func LoadDefault() (Config, error) {
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".passage", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}
	return Load("passage.toml")
}
