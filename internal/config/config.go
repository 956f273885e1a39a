// Package config loads modforge configuration from .modforge/config.yml
// in the workspace. All values have working defaults so a fresh checkout
// can build and test without any config file; deployment targets are the
// only section that must be written by hand.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all modforge configuration.
type Config struct {
	// Workspace is the resolved workspace root. Set by Load, not persisted.
	Workspace string `yaml:"-"`

	// ModulesDir is the module collection directory, relative to the
	// workspace unless absolute.
	ModulesDir string `yaml:"modules_dir"`

	// Module layout conventions
	Module ModuleConfig `yaml:"module"`

	// Build tool command lines
	Build BuildConfig `yaml:"build"`

	// Test tool command lines and layout
	Test TestConfig `yaml:"test"`

	// Host runtime checkout used for integration tests
	Runtime RuntimeConfig `yaml:"runtime"`

	// Deployment targets by name
	Targets map[string]Target `yaml:"targets"`

	// Scaffold generator
	Scaffold ScaffoldConfig `yaml:"scaffold"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ModuleConfig describes the on-disk layout conventions of a module.
type ModuleConfig struct {
	// PackageMarker identifies the backend source package: the first
	// child directory containing this file is the package dir.
	PackageMarker string `yaml:"package_marker"`

	// UIDir is the optional UI source directory name.
	UIDir string `yaml:"ui_dir"`

	// DistDir is the artifact output directory name.
	DistDir string `yaml:"dist_dir"`

	// SourceExtensions are the file extensions tracked by the
	// staleness check.
	SourceExtensions []string `yaml:"source_extensions"`

	// ExcludeDirs are directory names skipped by the staleness check
	// (generated output, vendored deps, caches, VCS metadata).
	ExcludeDirs []string `yaml:"exclude_dirs"`
}

// BuildConfig configures the external build tools.
type BuildConfig struct {
	// UICommand builds the UI bundle, run inside the UI dir.
	UICommand []string `yaml:"ui_command"`

	// PackageCommand produces the distributable archive, run inside
	// the module dir.
	PackageCommand []string `yaml:"package_command"`
}

// TestConfig configures test execution.
type TestConfig struct {
	// FastCommand runs the fast (no host runtime) suite.
	FastCommand []string `yaml:"fast_command"`

	// UnitDir is the subdirectory of the package holding fast tests.
	UnitDir string `yaml:"unit_dir"`

	// IntegrationDir is the subdirectory holding integration tests.
	IntegrationDir string `yaml:"integration_dir"`

	// HostEnvPrefix is the host runtime's env var prefix. Fast tests
	// run with every variable under this prefix scrubbed.
	HostEnvPrefix string `yaml:"host_env_prefix"`
}

// RuntimeConfig describes the host runtime checkout used by the
// environment linker and the integration test scope.
type RuntimeConfig struct {
	// Checkout is the path to the host runtime checkout.
	Checkout string `yaml:"checkout"`

	// SetupMarker is the completion marker file written by the host
	// runtime's own setup step, relative to the checkout.
	SetupMarker string `yaml:"setup_marker"`

	// PluginDir is the extension-discovery directory inside the
	// checkout where module links are placed.
	PluginDir string `yaml:"plugin_dir"`

	// Python is the checkout venv interpreter, relative to the checkout.
	Python string `yaml:"python"`

	// Pip is the checkout venv pip, relative to the checkout.
	Pip string `yaml:"pip"`

	// TestEntry is the runtime's test-execution entry point, run with
	// the venv interpreter from the checkout dir.
	TestEntry []string `yaml:"test_entry"`
}

// Target is a named remote host configuration. Read-only input: modforge
// never writes target config.
type Target struct {
	// Host is the ssh destination (user@host).
	Host string `yaml:"host"`

	// Port is the ssh port (0 = default).
	Port int `yaml:"port"`

	// IdentityFile is the ssh private key path.
	IdentityFile string `yaml:"identity_file"`

	// Container is the name of the running host-service container.
	Container string `yaml:"container"`

	// DeployRoots are candidate remote deployment roots, probed in
	// order; first existing directory wins.
	DeployRoots []string `yaml:"deploy_roots"`

	// DataDir is the upload directory under the deploy root. It must
	// be volume-mounted into the container at ContainerDataDir.
	DataDir string `yaml:"data_dir"`

	// ContainerDataDir is where DataDir appears inside the container.
	ContainerDataDir string `yaml:"container_data_dir"`

	// StaticCommand refreshes service-served static assets, run inside
	// the container after install.
	StaticCommand []string `yaml:"static_command"`

	// Production gates the deploy behind an interactive confirmation.
	Production bool `yaml:"production"`
}

// ScaffoldConfig configures the external module generator.
type ScaffoldConfig struct {
	// Command is the interactive generator command line.
	Command []string `yaml:"command"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ModulesDir: "modules",
		Module: ModuleConfig{
			PackageMarker:    "__init__.py",
			UIDir:            "frontend",
			DistDir:          "dist",
			SourceExtensions: []string{".py", ".js", ".jsx", ".ts", ".tsx", ".css", ".html"},
			ExcludeDirs: []string{
				"dist", "build", "node_modules", "__pycache__",
				".git", ".hg", ".venv", "env", ".cache",
				".pytest_cache",
			},
		},
		Build: BuildConfig{
			UICommand:      []string{"npm", "run", "build"},
			PackageCommand: []string{"python", "-m", "build", "--outdir", "dist"},
		},
		Test: TestConfig{
			FastCommand:    []string{"python", "-m", "pytest"},
			UnitDir:        "unit",
			IntegrationDir: "integration",
			HostEnvPrefix:  "HOSTAPP_",
		},
		Runtime: RuntimeConfig{
			SetupMarker: ".modforge-setup.yml",
			PluginDir:   "plugins",
			Python:      filepath.Join("env", "bin", "python"),
			Pip:         filepath.Join("env", "bin", "pip"),
			TestEntry:   []string{"manage.py", "test"},
		},
		Scaffold: ScaffoldConfig{
			Command: []string{"npx", "--yes", "create-hostapp-module"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .modforge/config.yml from the workspace, layered over
// defaults, then applies MODFORGE_* environment overrides. A missing
// config file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Workspace = workspace

	path := filepath.Join(workspace, ".modforge", "config.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Workspace = workspace
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers MODFORGE_* variables over the file config.
// Environment wins so a checkout path or modules dir can be switched
// per shell without editing the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MODFORGE_MODULES_DIR"); v != "" {
		c.ModulesDir = v
	}
	if v := os.Getenv("MODFORGE_RUNTIME_CHECKOUT"); v != "" {
		c.Runtime.Checkout = v
	}
	if v := os.Getenv("MODFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ModulesPath returns the absolute module collection directory.
func (c *Config) ModulesPath() string {
	if filepath.IsAbs(c.ModulesDir) {
		return c.ModulesDir
	}
	return filepath.Join(c.Workspace, c.ModulesDir)
}

// Target looks up a deployment target by name. The error lists the
// configured names so a typo is immediately diagnosable.
func (c *Config) Target(name string) (Target, error) {
	t, ok := c.Targets[name]
	if !ok {
		names := make([]string, 0, len(c.Targets))
		for n := range c.Targets {
			names = append(names, n)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return Target{}, fmt.Errorf("no deployment targets configured; add a targets section to .modforge/config.yml")
		}
		return Target{}, fmt.Errorf("unknown target %q (configured: %s)", name, strings.Join(names, ", "))
	}
	if t.Host == "" {
		return Target{}, fmt.Errorf("target %q has no host configured", name)
	}
	// Per-target defaults that only make sense once the target exists.
	if t.DataDir == "" {
		t.DataDir = "data"
	}
	if t.ContainerDataDir == "" {
		t.ContainerDataDir = "/home/app/data"
	}
	if len(t.DeployRoots) == 0 {
		t.DeployRoots = []string{"/srv/hostapp", "/opt/hostapp", "/home/hostapp"}
	}
	if len(t.StaticCommand) == 0 {
		t.StaticCommand = []string{"python", "manage.py", "collectstatic", "--noinput"}
	}
	return t, nil
}
