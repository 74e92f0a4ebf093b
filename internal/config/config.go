package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/patch"
	"github.com/modforge/devkit/internal/pathmatch"
	"github.com/modforge/devkit/internal/repoctx"
)

// File is the on-disk shape of config.toml. Unset keys keep their defaults.
//
//	model = "gpt-5.1"
//	effort = "low"
//	build_cmd = "./gradlew test"
//	forbidden = ["**/Dockerfile"]
//
//	[budget]
//	max_files = 20
type File struct {
	Model              string     `toml:"model"`
	Effort             string     `toml:"effort"`
	BaseURL            string     `toml:"base_url"`
	BuildCmd           string     `toml:"build_cmd"`
	Forbidden          []string   `toml:"forbidden"`
	Excludes           []string   `toml:"excludes"`
	EntrypointPatterns []string   `toml:"entrypoint_patterns"`
	SourceExtensions   []string   `toml:"source_extensions"`
	DefaultFiles       []string   `toml:"default_files"`
	Budget             FileBudget `toml:"budget"`
}

// FileBudget overrides individual budget limits; zero means unset.
type FileBudget struct {
	MaxFiles      int `toml:"max_files"`
	MaxFileChars  int `toml:"max_file_chars"`
	MaxTotalChars int `toml:"max_total_chars"`
	MaxGrepChars  int `toml:"max_grep_chars"`
}

// Config is the resolved assistant configuration: built-in defaults, then
// environment, then config.toml. Command-line flags are applied on top by
// the caller.
type Config struct {
	// Path is the config file that was loaded, or "" if none.
	Path string

	Model              string
	Effort             string
	BaseURL            string
	BuildCmd           string
	Forbidden          []string
	Excludes           []string
	EntrypointPatterns []string
	SourceExtensions   []string
	DefaultFiles       []string
	Budget             repoctx.Budget
}

// Default returns the built-in configuration with OPENAI_MODEL,
// OPENAI_EFFORT and OPENAI_BASE_URL applied.
func Default() *Config {
	return &Config{
		Model:              EnvOr(constants.EnvModel, constants.DefaultAssistModel),
		Effort:             EnvOr(constants.EnvEffort, constants.EffortNone),
		BaseURL:            EnvOr(constants.EnvBaseURL, ""),
		BuildCmd:           constants.DefaultBuildCmd,
		Forbidden:          slices.Clone(patch.DefaultForbidden),
		Excludes:           slices.Clone(repoctx.DefaultExcludes),
		EntrypointPatterns: slices.Clone(repoctx.DefaultEntrypointPatterns),
		SourceExtensions:   slices.Clone(repoctx.DefaultSourceExtensions),
		DefaultFiles:       slices.Clone(repoctx.DefaultFiles),
		Budget:             repoctx.DefaultBudget(),
	}
}

// Path returns the config file location for repoRoot: $RR_ASSIST_CONFIG if
// set, else <repo>/.rr_assist/config.toml. It returns "" when neither applies.
func Path(repoRoot string) string {
	if p := EnvOr(constants.EnvConfigPath, ""); p != "" {
		return p
	}
	if repoRoot == "" {
		return ""
	}
	return filepath.Join(repoRoot, constants.DirState, constants.FileConfig)
}

// Load resolves the configuration for repoRoot. A missing config file is not
// an error; an explicitly named one ($RR_ASSIST_CONFIG) must exist.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()
	path := Path(repoRoot)
	if path == "" {
		return cfg, nil
	}
	explicit := os.Getenv(constants.EnvConfigPath) != ""
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err := cfg.ApplyFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile decodes path and overlays every key it sets onto c.
func (c *Config) ApplyFile(path string) error {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	setString(&c.Model, f.Model)
	setString(&c.Effort, f.Effort)
	setString(&c.BaseURL, f.BaseURL)
	setString(&c.BuildCmd, f.BuildCmd)
	if md.IsDefined("forbidden") {
		c.Forbidden = f.Forbidden
	}
	if md.IsDefined("excludes") {
		c.Excludes = f.Excludes
	}
	if md.IsDefined("entrypoint_patterns") {
		c.EntrypointPatterns = f.EntrypointPatterns
	}
	if md.IsDefined("source_extensions") {
		c.SourceExtensions = f.SourceExtensions
	}
	if md.IsDefined("default_files") {
		c.DefaultFiles = f.DefaultFiles
	}
	setInt(&c.Budget.MaxFiles, f.Budget.MaxFiles)
	setInt(&c.Budget.MaxFileChars, f.Budget.MaxFileChars)
	setInt(&c.Budget.MaxTotalChars, f.Budget.MaxTotalChars)
	setInt(&c.Budget.MaxGrepChars, f.Budget.MaxGrepChars)

	c.Path = path
	return c.Validate()
}

// Validate checks enumerated values, budget limits and glob syntax.
func (c *Config) Validate() error {
	if !slices.Contains(constants.Efforts, c.Effort) {
		return fmt.Errorf("invalid effort %q (want one of %s)", c.Effort, strings.Join(constants.Efforts, ", "))
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model must not be empty")
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if bad := pathmatch.Valid(c.Forbidden); bad != "" {
		return fmt.Errorf("invalid forbidden pattern %q", bad)
	}
	if bad := pathmatch.Valid(c.Excludes); bad != "" {
		return fmt.Errorf("invalid exclude pattern %q", bad)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
