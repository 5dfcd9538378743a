package core

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// StreamingMode selects how model output is delivered.
type StreamingMode string

const (
	// StreamingModeNone requests unary model calls.
	StreamingModeNone StreamingMode = "none"
	// StreamingModeSSE streams partial text chunks from a unary request.
	StreamingModeSSE StreamingMode = "sse"
	// StreamingModeBidi uses a duplex live connection.
	StreamingModeBidi StreamingMode = "bidi"
)

// DefaultMaxLLMCalls is the per invocation LLM call ceiling.
const DefaultMaxLLMCalls = 500

// RunConfig carries per invocation settings.
type RunConfig struct {
	StreamingMode StreamingMode `yaml:"streaming_mode"`

	// SupportCFC routes turn based calls through the live connection.
	SupportCFC bool `yaml:"support_cfc"`

	// MaxLLMCalls bounds model calls per invocation. Zero or negative means
	// unbounded.
	MaxLLMCalls int `yaml:"max_llm_calls"`

	// LLMCallsPerSecond paces model calls with a token bucket when > 0.
	LLMCallsPerSecond float64 `yaml:"llm_calls_per_second"`
	LLMCallsBurst     int     `yaml:"llm_calls_burst"`

	// MaxParallelToolCalls bounds concurrent tool executions of one model
	// response. Zero means one goroutine per call.
	MaxParallelToolCalls int `yaml:"max_parallel_tool_calls"`

	ResponseModalities       []string `yaml:"response_modalities"`
	OutputAudioTranscription bool     `yaml:"output_audio_transcription"`
	InputAudioTranscription  bool     `yaml:"input_audio_transcription"`

	// SaveInputBlobsAsArtifacts replaces inline user blobs with artifact
	// references before the user event is appended.
	SaveInputBlobsAsArtifacts bool `yaml:"save_input_blobs_as_artifacts"`
}

// DefaultRunConfig returns the baseline configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		StreamingMode: StreamingModeNone,
		MaxLLMCalls:   DefaultMaxLLMCalls,
	}
}

// Validate checks field ranges.
func (c RunConfig) Validate() error {
	switch c.StreamingMode {
	case "", StreamingModeNone, StreamingModeSSE, StreamingModeBidi:
	default:
		return fmt.Errorf("%w: unknown streaming mode %q", ErrInvalidRunConfig, c.StreamingMode)
	}

	if c.MaxLLMCalls == math.MaxInt {
		return fmt.Errorf("%w: max_llm_calls should be less than %d", ErrInvalidRunConfig, math.MaxInt)
	}

	if c.LLMCallsPerSecond < 0 {
		return fmt.Errorf("%w: llm_calls_per_second must not be negative", ErrInvalidRunConfig)
	}

	if c.MaxParallelToolCalls < 0 {
		return fmt.Errorf("%w: max_parallel_tool_calls must not be negative", ErrInvalidRunConfig)
	}

	return nil
}

// Unbounded reports whether the LLM call ceiling is disabled.
func (c RunConfig) Unbounded() bool { return c.MaxLLMCalls <= 0 }

// ParseRunConfig decodes YAML on top of DefaultRunConfig and validates it.
func ParseRunConfig(data []byte) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("parse run config: %w", err)
	}

	if cfg.StreamingMode == "" {
		cfg.StreamingMode = StreamingModeNone
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}

	return cfg, nil
}

// LoadRunConfig reads and parses a YAML run config file.
func LoadRunConfig(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read run config: %w", err)
	}

	return ParseRunConfig(data)
}
