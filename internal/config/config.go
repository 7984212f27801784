package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/fitcheck/internal/analysis"
	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/ledger"
	"github.com/Veraticus/fitcheck/internal/llm"
	"github.com/Veraticus/fitcheck/internal/purchase"
	"github.com/Veraticus/fitcheck/internal/search"
	"github.com/Veraticus/fitcheck/internal/store"
)

// Config is the resolved application configuration.
type Config struct {
	DatabasePath string
	MetricsAddr  string
	Ledger       ledger.Config
	LLM          llm.Config
	Speech       llm.SpeechConfig
	Search       search.Config
	Analysis     analysis.Config
	Store        store.Config
	Products     []purchase.ProductSpec
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("credits.free_grant", ledger.DefaultFreeCredits)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.rate_limit", 20)
	v.SetDefault("speech.format", "mp3")
	v.SetDefault("speech.output_dir", DefaultAudioDir)
	v.SetDefault("search.count", analysis.DefaultSearchCount)
	v.SetDefault("search.delay", analysis.DefaultSearchDelay)
	v.SetDefault("search.cache_ttl", search.DefaultCacheTTL)
	v.SetDefault("analysis.stage_timeout", analysis.DefaultStageTimeout)
	v.SetDefault("analysis.language", analysis.DefaultLanguage)
	v.SetDefault("store.poll_interval", store.DefaultPollInterval)
}

// Load resolves configuration from v, falling back to the providers'
// conventional environment variables for credentials.
// Missing credentials are not an error here; each client reports them when built.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabasePath: ExpandPath(v.GetString("database.path")),
		MetricsAddr:  v.GetString("metrics.addr"),
		Ledger: ledger.Config{
			FreeCredits: v.GetInt("credits.free_grant"),
		},
		LLM: llm.Config{
			Provider:    strings.ToLower(v.GetString("llm.provider")),
			APIKey:      v.GetString("llm.api_key"),
			Model:       v.GetString("llm.model"),
			BaseURL:     v.GetString("llm.base_url"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			RetryDelay:  v.GetDuration("llm.retry_delay"),
			RateLimit:   v.GetInt("llm.rate_limit"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
		},
		Speech: llm.SpeechConfig{
			APIKey:    v.GetString("speech.api_key"),
			Model:     v.GetString("speech.model"),
			BaseURL:   v.GetString("speech.base_url"),
			Format:    v.GetString("speech.format"),
			OutputDir: ExpandPath(v.GetString("speech.output_dir")),
		},
		Search: search.Config{
			APIKey:            v.GetString("search.api_key"),
			EngineID:          v.GetString("search.engine_id"),
			BaseURL:           v.GetString("search.base_url"),
			CacheTTL:          v.GetDuration("search.cache_ttl"),
			DisableSafeSearch: v.GetBool("search.disable_safe_search"),
		},
		Analysis: analysis.Config{
			StageTimeout: v.GetDuration("analysis.stage_timeout"),
			SearchDelay:  v.GetDuration("search.delay"),
			SearchCount:  v.GetInt("search.count"),
			Language:     v.GetString("analysis.language"),
			MaxIdeas:     v.GetInt("analysis.max_ideas"),
		},
		Store: store.Config{
			PollInterval: v.GetDuration("store.poll_interval"),
			AskToBuy:     v.GetBool("store.ask_to_buy"),
		},
	}

	if err := v.UnmarshalKey("store.products", &cfg.Products); err != nil {
		return nil, fmt.Errorf("%w: store.products: %w", common.ErrInvalidConfig, err)
	}
	if len(cfg.Products) == 0 {
		cfg.Products = purchase.DefaultProducts
	}
	if err := v.UnmarshalKey("store.listings", &cfg.Store.Listings); err != nil {
		return nil, fmt.Errorf("%w: store.listings: %w", common.ErrInvalidConfig, err)
	}

	applyEnvFallbacks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvFallbacks(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Speech.APIKey == "" {
		// Speech always goes through OpenAI.
		if cfg.LLM.Provider == "openai" || cfg.LLM.Provider == "" {
			cfg.Speech.APIKey = cfg.LLM.APIKey
		} else {
			cfg.Speech.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("GOOGLE_SEARCH_API_KEY")
	}
	if cfg.Search.EngineID == "" {
		cfg.Search.EngineID = os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	}
}

// Validate checks values that no client would catch on its own.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database.path cannot be empty", common.ErrInvalidConfig)
	}
	if c.Ledger.FreeCredits < 0 {
		return fmt.Errorf("%w: credits.free_grant must not be negative", common.ErrInvalidConfig)
	}
	if c.Analysis.SearchCount < 1 || c.Analysis.SearchCount > 10 {
		return fmt.Errorf("%w: search.count must be between 1 and 10", common.ErrInvalidConfig)
	}
	if c.Analysis.SearchDelay < 0 {
		return fmt.Errorf("%w: search.delay must not be negative", common.ErrInvalidConfig)
	}
	if c.Analysis.StageTimeout < 0 {
		return fmt.Errorf("%w: analysis.stage_timeout must not be negative", common.ErrInvalidConfig)
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("%w: unsupported llm.provider %q", common.ErrInvalidConfig, c.LLM.Provider)
	}
	return nil
}
