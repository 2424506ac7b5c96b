// Package config loads the engine tuning surface: lifecycle timeouts,
// resolver thresholds, exercise definitions, and pipeline limits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/floorsight/internal/floor"
	"github.com/banshee-data/floorsight/internal/floor/exercise"
	"github.com/banshee-data/floorsight/internal/floor/identity"
	"github.com/banshee-data/floorsight/internal/floor/pipeline"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/engine.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so a partial JSON file overrides only what it
// names; the Get* methods supply defaults for everything else.
type TuningConfig struct {
	// Track lifecycle params
	ActiveTimeout   *string `json:"active_timeout,omitempty"` // duration string like "2s"
	CloseTimeout    *string `json:"close_timeout,omitempty"`
	PurgeGrace      *string `json:"purge_grace,omitempty"` // defaults to gate_window
	EmbeddingWindow *int    `json:"embedding_window,omitempty"`

	// Identity resolver params
	AppearanceThreshold *float64 `json:"appearance_threshold,omitempty"`
	FaceThreshold       *float64 `json:"face_threshold,omitempty"`
	FaceSanityFloor     *float64 `json:"face_sanity_floor,omitempty"`
	AmbiguityEpsilon    *float64 `json:"ambiguity_epsilon,omitempty"`
	GateWindow          *string  `json:"gate_window,omitempty"`
	GateBoost           *float64 `json:"gate_boost,omitempty"`
	MinObservations     *int     `json:"min_observations,omitempty"`
	ResolveEvery        *int     `json:"resolve_every,omitempty"`
	CandidateLimit      *int     `json:"candidate_limit,omitempty"`

	// Exercise engine params
	SmoothingWindow     *int     `json:"smoothing_window,omitempty"`
	ClassifyWindow      *int     `json:"classify_window,omitempty"`
	VarianceFloor       *float64 `json:"variance_floor,omitempty"`
	LowerBodyRange      *float64 `json:"lower_body_range,omitempty"`
	FormDebounceFrames  *int     `json:"form_debounce_frames,omitempty"`
	AlertCooldown       *string  `json:"alert_cooldown,omitempty"`
	SessionTimeout      *string  `json:"session_timeout,omitempty"`
	VisibilityThreshold *float64 `json:"visibility_threshold,omitempty"`

	// Guidance params
	GuidanceInterval *string `json:"guidance_interval,omitempty"`

	// Pipeline params
	CameraBuffer  *int    `json:"camera_buffer,omitempty"`
	SweepInterval *string `json:"sweep_interval,omitempty"`

	// Exercise definitions. Empty means the builtin set.
	Exercises []exercise.Definition `json:"exercises,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the JSON retain their defaults, so partial configs are safe. A
// malformed exercise definition is an error: the engine never starts
// with a partially valid exercise set.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from
// DefaultConfigPath, searching upward from the working directory.
// Panics if the file cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"active_timeout":    c.ActiveTimeout,
		"close_timeout":     c.CloseTimeout,
		"purge_grace":       c.PurgeGrace,
		"gate_window":       c.GateWindow,
		"alert_cooldown":    c.AlertCooldown,
		"session_timeout":   c.SessionTimeout,
		"guidance_interval": c.GuidanceInterval,
		"sweep_interval":    c.SweepInterval,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	unit := map[string]*float64{
		"appearance_threshold": c.AppearanceThreshold,
		"face_threshold":       c.FaceThreshold,
		"face_sanity_floor":    c.FaceSanityFloor,
		"visibility_threshold": c.VisibilityThreshold,
	}
	for name, v := range unit {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	if c.AmbiguityEpsilon != nil && *c.AmbiguityEpsilon < 0 {
		return fmt.Errorf("ambiguity_epsilon must be non-negative, got %f", *c.AmbiguityEpsilon)
	}
	if c.CameraBuffer != nil && *c.CameraBuffer < 1 {
		return fmt.Errorf("camera_buffer must be positive, got %d", *c.CameraBuffer)
	}
	if c.SmoothingWindow != nil && *c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be positive, got %d", *c.SmoothingWindow)
	}
	if c.GetCloseTimeout() <= c.GetActiveTimeout() {
		return fmt.Errorf("close_timeout %v must exceed active_timeout %v",
			c.GetCloseTimeout(), c.GetActiveTimeout())
	}

	// Exercise definitions are load-fatal when malformed.
	if err := exercise.ValidateAll(c.GetExercises()); err != nil {
		return err
	}
	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetActiveTimeout returns the active_timeout value or the default.
func (c *TuningConfig) GetActiveTimeout() time.Duration {
	return c.duration(c.ActiveTimeout, floor.DefaultActiveTimeout)
}

// GetCloseTimeout returns the close_timeout value or the default.
func (c *TuningConfig) GetCloseTimeout() time.Duration {
	return c.duration(c.CloseTimeout, floor.DefaultCloseTimeout)
}

// GetPurgeGrace returns the purge_grace value; it defaults to the gate
// window, which is exactly how long closed tracks are useful for gating.
func (c *TuningConfig) GetPurgeGrace() time.Duration {
	return c.duration(c.PurgeGrace, c.GetGateWindow())
}

// GetGateWindow returns the gate_window value or the default.
func (c *TuningConfig) GetGateWindow() time.Duration {
	return c.duration(c.GateWindow, identity.DefaultGateWindow)
}

// GetAlertCooldown returns the alert_cooldown value or the default.
func (c *TuningConfig) GetAlertCooldown() time.Duration {
	return c.duration(c.AlertCooldown, exercise.DefaultAlertCooldown)
}

// GetSessionTimeout returns the session_timeout value or the default.
func (c *TuningConfig) GetSessionTimeout() time.Duration {
	return c.duration(c.SessionTimeout, exercise.DefaultSessionTimeout)
}

// GetGuidanceInterval returns the guidance_interval value or the default.
func (c *TuningConfig) GetGuidanceInterval() time.Duration {
	return c.duration(c.GuidanceInterval, 30*time.Second)
}

// GetSweepInterval returns the sweep_interval value or the default.
func (c *TuningConfig) GetSweepInterval() time.Duration {
	return c.duration(c.SweepInterval, pipeline.DefaultSweepInterval)
}

// GetEmbeddingWindow returns the embedding_window value or the default.
func (c *TuningConfig) GetEmbeddingWindow() int {
	if c.EmbeddingWindow == nil {
		return floor.DefaultEmbeddingWindow
	}
	return *c.EmbeddingWindow
}

// GetCameraBuffer returns the camera_buffer value or the default.
func (c *TuningConfig) GetCameraBuffer() int {
	if c.CameraBuffer == nil {
		return pipeline.DefaultCameraBuffer
	}
	return *c.CameraBuffer
}

// GetExercises returns the configured exercise definitions or the
// builtin set.
func (c *TuningConfig) GetExercises() []exercise.Definition {
	if len(c.Exercises) == 0 {
		return exercise.BuiltinDefinitions()
	}
	return c.Exercises
}

// ArenaConfig builds the lifecycle configuration.
func (c *TuningConfig) ArenaConfig() floor.ArenaConfig {
	return floor.ArenaConfig{
		ActiveTimeout:   c.GetActiveTimeout(),
		CloseTimeout:    c.GetCloseTimeout(),
		PurgeGrace:      c.GetPurgeGrace(),
		EmbeddingWindow: c.GetEmbeddingWindow(),
	}
}

// ResolverConfig builds the identity resolver configuration.
func (c *TuningConfig) ResolverConfig() identity.Config {
	out := identity.DefaultConfig()
	out.GateWindow = c.GetGateWindow()
	if c.AppearanceThreshold != nil {
		out.AppearanceThreshold = *c.AppearanceThreshold
	}
	if c.FaceThreshold != nil {
		out.FaceThreshold = *c.FaceThreshold
	}
	if c.FaceSanityFloor != nil {
		out.FaceSanityFloor = *c.FaceSanityFloor
	}
	if c.AmbiguityEpsilon != nil {
		out.AmbiguityEpsilon = *c.AmbiguityEpsilon
	}
	if c.GateBoost != nil {
		out.GateBoost = *c.GateBoost
	}
	if c.MinObservations != nil {
		out.MinObservations = *c.MinObservations
	}
	if c.ResolveEvery != nil {
		out.ResolveEvery = *c.ResolveEvery
	}
	if c.CandidateLimit != nil {
		out.CandidateLimit = *c.CandidateLimit
	}
	return out
}

// EngineConfig builds the exercise engine configuration.
func (c *TuningConfig) EngineConfig() exercise.Config {
	out := exercise.DefaultEngineConfig()
	out.AlertCooldown = c.GetAlertCooldown()
	out.SessionTimeout = c.GetSessionTimeout()
	if c.SmoothingWindow != nil {
		out.SmoothingWindow = *c.SmoothingWindow
	}
	if c.ClassifyWindow != nil {
		out.ClassifyWindow = *c.ClassifyWindow
	}
	if c.VarianceFloor != nil {
		out.VarianceFloor = *c.VarianceFloor
	}
	if c.LowerBodyRange != nil {
		out.LowerBodyRange = *c.LowerBodyRange
	}
	if c.FormDebounceFrames != nil {
		out.FormDebounce = *c.FormDebounceFrames
	}
	if c.VisibilityThreshold != nil {
		out.VisibilityThreshold = float32(*c.VisibilityThreshold)
	}
	return out
}

// CoordinatorConfig builds the pipeline coordinator configuration.
func (c *TuningConfig) CoordinatorConfig() pipeline.Config {
	return pipeline.Config{
		CameraBuffer:  c.GetCameraBuffer(),
		SweepInterval: c.GetSweepInterval(),
	}
}
