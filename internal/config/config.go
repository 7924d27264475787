// Package config loads the runner configuration and the per-job context.
//
// The configuration file describes the host environment (images root,
// libvirt socket, SSH trust material); it is shared by all jobs. The job
// context arrives through the environment on every invocation and is the
// only input to identity derivation, so the three verbs agree on the VM
// identity without any shared state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgeci/vmrunner/internal/outcome"
)

// Environment variables supplied by the orchestrator on every invocation.
const (
	EnvProjectName = "CUSTOM_ENV_CI_PROJECT_NAME"
	EnvJobID       = "CUSTOM_ENV_CI_JOB_ID"

	EnvBuildFailureCode  = "BUILD_FAILURE_EXIT_CODE"
	EnvSystemFailureCode = "SYSTEM_FAILURE_EXIT_CODE"
)

// DefaultPath is where the runner configuration lives unless --config
// overrides it.
const DefaultPath = "/etc/vmrunner/config.yaml"

// Duration wraps time.Duration with YAML support ("1s", "500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the host-level runner configuration.
type Config struct {
	// ImagesRoot is the directory holding per-job overlay disks.
	ImagesRoot string `yaml:"images_root"`

	// LibvirtSocket is the local libvirt daemon socket.
	LibvirtSocket string `yaml:"libvirt_socket"`

	// Network is the default libvirt network VMs attach to. The create
	// verb's -n flag overrides it per job.
	Network string `yaml:"network"`

	SSH       SSHConfig       `yaml:"ssh"`
	Readiness ReadinessConfig `yaml:"readiness"`
	CloudInit CloudInitConfig `yaml:"cloud_init"`
}

// SSHConfig is the trust bootstrap for guest access: one key on the host,
// one unprivileged account in the guest image.
type SSHConfig struct {
	User           string `yaml:"user"`
	Port           string `yaml:"port"`
	PrivateKeyFile string `yaml:"private_key_file"`

	// KnownHostsFile enables host key verification when set. The empty
	// default disables verification, which is acceptable only because each
	// host is single-use and lives on an isolated virtualization network.
	KnownHostsFile string `yaml:"known_hosts_file"`
}

// ReadinessConfig bounds the two readiness waits during create.
type ReadinessConfig struct {
	AddressInterval Duration `yaml:"address_interval"`
	AddressAttempts int      `yaml:"address_attempts"`
	ShellInterval   Duration `yaml:"shell_interval"`
	ShellAttempts   int      `yaml:"shell_attempts"`
}

// CloudInitConfig optionally injects the runner's public key through a
// NoCloud seed ISO, for base images that don't bake the key in.
type CloudInitConfig struct {
	SSHPublicKeyFile string `yaml:"ssh_public_key_file"`
}

// Default returns the out-of-box configuration.
func Default() *Config {
	return &Config{
		ImagesRoot:    "/var/lib/vmrunner/images",
		LibvirtSocket: "/var/run/libvirt/libvirt-sock",
		Network:       "default",
		SSH: SSHConfig{
			User:           "build",
			Port:           "22",
			PrivateKeyFile: "/etc/vmrunner/id_ed25519",
		},
		Readiness: ReadinessConfig{
			AddressInterval: Duration(time.Second),
			AddressAttempts: 120,
			ShellInterval:   Duration(time.Second),
			ShellAttempts:   60,
		},
	}
}

// Load reads the configuration at path, applying defaults for unset fields.
// If path is DefaultPath and the file does not exist, the defaults are
// returned; an explicitly requested path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c.ImagesRoot == "" {
		return fmt.Errorf("images_root is required")
	}
	if c.SSH.User == "" {
		return fmt.Errorf("ssh.user is required")
	}
	if c.SSH.PrivateKeyFile == "" {
		return fmt.Errorf("ssh.private_key_file is required")
	}
	if c.Readiness.AddressAttempts < 1 {
		return fmt.Errorf("readiness.address_attempts must be >= 1, got %d", c.Readiness.AddressAttempts)
	}
	if c.Readiness.ShellAttempts < 1 {
		return fmt.Errorf("readiness.shell_attempts must be >= 1, got %d", c.Readiness.ShellAttempts)
	}
	if time.Duration(c.Readiness.AddressInterval) <= 0 {
		return fmt.Errorf("readiness.address_interval must be positive")
	}
	if time.Duration(c.Readiness.ShellInterval) <= 0 {
		return fmt.Errorf("readiness.shell_interval must be positive")
	}
	return nil
}

// JobContext identifies the job a verb invocation belongs to. It is
// immutable and used only to derive the VM identity.
type JobContext struct {
	ProjectName string
	JobID       string
}

// JobContextFromEnv reads the job context from the orchestrator-provided
// environment. Missing variables are a usage failure: without them no VM
// identity can be derived.
func JobContextFromEnv() (JobContext, error) {
	project := os.Getenv(EnvProjectName)
	if project == "" {
		return JobContext{}, outcome.Usagef("%s is not set", EnvProjectName)
	}
	jobID := os.Getenv(EnvJobID)
	if jobID == "" {
		return JobContext{}, outcome.Usagef("%s is not set", EnvJobID)
	}
	return JobContext{ProjectName: project, JobID: jobID}, nil
}

// ExitCodesFromEnv reads the orchestrator's configured failure exit codes.
// Defaults follow the runner convention: build failure 1, system failure 2.
func ExitCodesFromEnv() (outcome.Codes, error) {
	codes := outcome.Codes{
		Build:  1,
		System: 2,
		Usage:  outcome.DefaultUsageCode,
	}

	if v := os.Getenv(EnvBuildFailureCode); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return codes, outcome.Usagef("invalid %s: %q", EnvBuildFailureCode, v)
		}
		codes.Build = n
	}
	if v := os.Getenv(EnvSystemFailureCode); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return codes, outcome.Usagef("invalid %s: %q", EnvSystemFailureCode, v)
		}
		codes.System = n
	}

	return codes, nil
}
