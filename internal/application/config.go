// Package application assembles the engine: it loads configuration,
// constructs the model providers and the comparison and eval pipelines,
// and exposes the three operations callers use (Compare, CreateRun,
// GetRun). Everything below this package is wired through the ports
// interfaces, so callers only ever touch the Engine.
package application

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied by DefaultConfig.
const (
	DefaultChatProvider     = "openai"
	DefaultTextModel        = "gpt-4o-mini"
	DefaultVisionModel      = "gpt-4o"
	DefaultImageModel       = "gpt-image-1"
	DefaultImageSize        = "1024x1024"
	DefaultUpstreamTimeout  = 60 * time.Second
	DefaultStageConcurrency = 4
	DefaultDataDir          = "data"
)

var validate = validator.New()

// Config holds the engine configuration. Values come from DefaultConfig,
// an optional YAML file, and environment overrides, in that order.
type Config struct {
	// ChatProvider selects the language model provider used for semantic
	// scoring, vision judging, rubric evaluation, planning, and
	// suggestion writing.
	ChatProvider string `yaml:"chat_provider" validate:"required,oneof=openai anthropic google"`

	// APIKey authenticates chat and image generation requests. An empty
	// key degrades gracefully: compares run on the pixel signal alone and
	// eval runs fail per variant at generation time.
	APIKey string `yaml:"api_key"`

	// TextModel handles the text-only calls: variant planning and
	// suggestion writing.
	TextModel string `yaml:"text_model" validate:"required"`

	// VisionModel handles the image-bearing calls: semantic scoring,
	// vision judging, and rubric evaluation.
	VisionModel string `yaml:"vision_model" validate:"required"`

	// ImageModel is the default image generation model.
	ImageModel string `yaml:"image_model" validate:"required"`

	// ImageSize is the generation resolution, width x height.
	ImageSize string `yaml:"image_size" validate:"required"`

	// UpstreamTimeout bounds each individual provider call.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout" validate:"gt=0"`

	// StageConcurrency bounds concurrent generation and evaluation calls
	// within one eval run.
	StageConcurrency int `yaml:"stage_concurrency" validate:"gte=1,lte=32"`

	// DataDir is the root for engine-owned files. Commit-relative image
	// paths resolve against DataDir/images, compare artifacts land in
	// DataDir/artifacts, and remote downloads are cached in
	// DataDir/cache.
	DataDir string `yaml:"data_dir" validate:"required"`

	// StorageBaseURL, when set, resolves image references that are
	// neither URLs nor existing local files.
	StorageBaseURL string `yaml:"storage_base_url"`
}

// DefaultConfig returns the configuration used when no file or
// environment override says otherwise.
func DefaultConfig() Config {
	return Config{
		ChatProvider:     DefaultChatProvider,
		TextModel:        DefaultTextModel,
		VisionModel:      DefaultVisionModel,
		ImageModel:       DefaultImageModel,
		ImageSize:        DefaultImageSize,
		UpstreamTimeout:  DefaultUpstreamTimeout,
		StageConcurrency: DefaultStageConcurrency,
		DataDir:          DefaultDataDir,
	}
}

// LoadConfig builds the effective configuration: defaults, then the YAML
// file at path (skipped when path is empty or the file does not exist),
// then environment overrides, then validation.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Optional file, fall through to env and defaults.
		case err != nil:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if err := config.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnv layers environment variables over the current values.
// OPENAI_API_KEY is honored for compatibility with provider tooling;
// PROMPTSMITH_API_KEY wins when both are set.
func (c *Config) applyEnv() error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("PROMPTSMITH_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("PROMPTSMITH_CHAT_PROVIDER"); v != "" {
		c.ChatProvider = v
	}
	if v := os.Getenv("PROMPTSMITH_TEXT_MODEL"); v != "" {
		c.TextModel = v
	}
	if v := os.Getenv("PROMPTSMITH_VISION_MODEL"); v != "" {
		c.VisionModel = v
	}
	if v := os.Getenv("PROMPTSMITH_IMAGE_MODEL"); v != "" {
		c.ImageModel = v
	}
	if v := os.Getenv("PROMPTSMITH_IMAGE_SIZE"); v != "" {
		c.ImageSize = v
	}
	if v := os.Getenv("PROMPTSMITH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PROMPTSMITH_STORAGE_BASE_URL"); v != "" {
		c.StorageBaseURL = v
	}
	if v := os.Getenv("PROMPTSMITH_UPSTREAM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PROMPTSMITH_UPSTREAM_TIMEOUT: %w", err)
		}
		c.UpstreamTimeout = d
	}
	if v := os.Getenv("PROMPTSMITH_STAGE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROMPTSMITH_STAGE_CONCURRENCY: %w", err)
		}
		c.StageConcurrency = n
	}
	return nil
}
