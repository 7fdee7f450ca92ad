package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/bbb"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/lookup"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/provision"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

const (
	DefaultConfigDir  = "/etc/vncgate"
	DefaultConfigPath = DefaultConfigDir + "/config.toml"
	DefaultStateDir   = "/var/lib/vncgate"
	DefaultRelayAddr  = ":6080"
	DefaultAdminAddr  = "127.0.0.1:6081"
)

// Backend names accepted in [provision].
const (
	BackendLocal     = "local"
	BackendContainer = "container"
)

// Config is the vncgate configuration file.
type Config struct {
	Listen    ListenConfig    `toml:"listen"`
	Token     TokenConfig     `toml:"token"`
	Lookup    LookupConfig    `toml:"lookup"`
	BBB       BBBConfig       `toml:"bbb"`
	Fallback  FallbackConfig  `toml:"fallback"`
	Provision ProvisionConfig `toml:"provision"`
	Local     LocalConfig     `toml:"local"`
	Container ContainerConfig `toml:"container"`
	Probe     ProbeConfig     `toml:"probe"`
	StateDir  string          `toml:"state_dir"`

	// Path is the file the configuration was loaded from.
	Path string `toml:"-"`
}

// ListenConfig configures the relay and admin listeners.
type ListenConfig struct {
	Relay             string        `toml:"relay"`
	Admin             string        `toml:"admin"`
	AllowedOrigins    []string      `toml:"allowed_origins"`
	Subprotocols      []string      `toml:"subprotocols"`
	RateLimitRequests int           `toml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `toml:"rate_limit_window"`
	DialTimeout       time.Duration `toml:"dial_timeout"`
}

// TokenConfig configures token verification. The secret comes from Secret,
// SecretFile or, with UseBBBSalt, the BigBlueButton securitySalt.
type TokenConfig struct {
	Secret     string        `toml:"secret"`
	SecretFile string        `toml:"secret_file"`
	UseBBBSalt bool          `toml:"use_bbb_salt"`
	Leeway     time.Duration `toml:"leeway"`
}

// LookupConfig selects the identity lookups, consulted in order: static
// table, SQLite table, HTTP service.
type LookupConfig struct {
	Users        []lookup.Entry `toml:"users"`
	SquashSpaces bool           `toml:"squash_spaces"`

	SQLitePath   string `toml:"sqlite_path"`
	CreateSchema bool   `toml:"create_schema"`

	HTTPEndpoint   string        `toml:"http_endpoint"`
	HTTPSecret     string        `toml:"http_secret"`
	HTTPSecretFile string        `toml:"http_secret_file"`
	HTTPTimeout    time.Duration `toml:"http_timeout"`
}

// BBBConfig configures the meeting directory. Empty ServerURL and Secret
// are read from PropertyFiles.
type BBBConfig struct {
	Enabled       bool     `toml:"enabled"`
	ServerURL     string   `toml:"server_url"`
	Secret        string   `toml:"secret"`
	SecretFile    string   `toml:"secret_file"`
	PropertyFiles []string `toml:"property_files"`
}

// FallbackConfig configures routes for subjects without a mapping.
type FallbackConfig struct {
	DefaultTarget string `toml:"default_target"`
	DirectHost    string `toml:"direct_host"`
	// Account runs view-only meeting desktops. Empty uses the meeting ID.
	Account string `toml:"account"`
}

// ProvisionConfig configures the provisioner.
type ProvisionConfig struct {
	Backend         string        `toml:"backend"`
	ReadyTimeout    time.Duration `toml:"ready_timeout"`
	PollInitial     time.Duration `toml:"poll_initial"`
	PollMax         time.Duration `toml:"poll_max"`
	PollMultiplier  float64       `toml:"poll_multiplier"`
	AccountLockFile string        `toml:"account_lock_file"`
}

// LocalConfig configures the local backend.
type LocalConfig struct {
	SocketDir     string `toml:"socket_dir"`
	HomeDir       string `toml:"home_dir"`
	HomeSocket    string `toml:"home_socket"`
	Group         string `toml:"group"`
	UseSudo       bool   `toml:"use_sudo"`
	AccountCheck  string `toml:"account_check"`
	AccountCreate string `toml:"account_create"`
	SpawnCommand  string `toml:"spawn_command"`
	ViewOnlyArgs  string `toml:"view_only_args"`
}

// ContainerConfig configures the container backend.
type ContainerConfig struct {
	Command            string   `toml:"command"`
	Image              string   `toml:"image"`
	Prefix             string   `toml:"prefix"`
	SocketDir          string   `toml:"socket_dir"`
	ContainerSocketDir string   `toml:"container_socket_dir"`
	ExtraArgs          []string `toml:"extra_args"`
	ViewOnlyArgs       []string `toml:"view_only_args"`
	Group              string   `toml:"group"`
	UseSudo            bool     `toml:"use_sudo"`
}

// ProbeConfig configures geometry probes and the health monitor.
type ProbeConfig struct {
	Timeout         time.Duration `toml:"timeout"`
	Parallelism     int           `toml:"parallelism"`
	MonitorInterval time.Duration `toml:"monitor_interval"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Relay:           DefaultRelayAddr,
			Admin:           DefaultAdminAddr,
			Subprotocols:    []string{"binary"},
			RateLimitWindow: time.Minute,
			DialTimeout:     5 * time.Second,
		},
		BBB: BBBConfig{PropertyFiles: bbb.DefaultPropertyFiles},
		Provision: ProvisionConfig{
			Backend:        BackendLocal,
			ReadyTimeout:   provision.DefaultReadyTimeout,
			PollInitial:    provision.DefaultPollConfig.InitialDelay,
			PollMax:        provision.DefaultPollConfig.MaxDelay,
			PollMultiplier: provision.DefaultPollConfig.Multiplier,
		},
		Local: LocalConfig{
			SocketDir:     provision.DefaultSocketDir,
			HomeDir:       provision.DefaultHomeDir,
			HomeSocket:    provision.DefaultHomeSocket,
			Group:         provision.DefaultGroup,
			UseSudo:       true,
			AccountCheck:  provision.DefaultAccountCheck,
			AccountCreate: provision.DefaultAccountCreate,
			SpawnCommand:  provision.DefaultSpawnCommand,
			ViewOnlyArgs:  provision.DefaultViewOnlyArgs,
		},
		Container: ContainerConfig{
			Prefix:             provision.DefaultContainerPrefix,
			SocketDir:          provision.DefaultSocketDir,
			ContainerSocketDir: provision.DefaultContainerSocketDir,
		},
		Probe: ProbeConfig{
			Timeout:         5 * time.Second,
			Parallelism:     8,
			MonitorInterval: 30 * time.Second,
		},
		StateDir: DefaultStateDir,
	}
}

// Load reads the TOML file at path over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes TOML data over the defaults and validates the result.
// Relative file references are resolved against the directory of path.
// Unknown keys are an error.
func Parse(data []byte, path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path
	cfg.resolveRelative()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveRelative makes file references relative to the config file's
// directory.
func (c *Config) resolveRelative() {
	base := filepath.Dir(c.Path)
	for _, p := range []*string{
		&c.Token.SecretFile,
		&c.Lookup.SQLitePath,
		&c.Lookup.HTTPSecretFile,
		&c.BBB.SecretFile,
		&c.Provision.AccountLockFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen.Relay == "" {
		return fmt.Errorf("listen.relay is required")
	}
	for name, addr := range map[string]string{"listen.relay": c.Listen.Relay, "listen.admin": c.Listen.Admin} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s: invalid address %q: %w", name, addr, err)
		}
	}
	if c.Listen.RateLimitRequests < 0 {
		return fmt.Errorf("listen.rate_limit_requests must not be negative")
	}

	sources := 0
	for _, set := range []bool{c.Token.Secret != "", c.Token.SecretFile != "", c.Token.UseBBBSalt} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("exactly one of token.secret, token.secret_file or token.use_bbb_salt is required")
	}

	for i, u := range c.Lookup.Users {
		if u.Subject == "" {
			return fmt.Errorf("lookup.users[%d]: subject is required", i)
		}
		if u.Account == "" && u.Port == 0 {
			return fmt.Errorf("lookup.users[%d] (%s): account or port is required", i, u.Subject)
		}
		if u.Account != "" {
			if err := provision.ValidateKey(u.Account); err != nil {
				return fmt.Errorf("lookup.users[%d] (%s): %w", i, u.Subject, err)
			}
		}
		if u.Port < 0 || u.Port > 65535 {
			return fmt.Errorf("lookup.users[%d] (%s): port %d out of range", i, u.Subject, u.Port)
		}
	}
	if c.Lookup.HTTPSecret != "" && c.Lookup.HTTPSecretFile != "" {
		return fmt.Errorf("lookup.http_secret and lookup.http_secret_file are mutually exclusive")
	}

	if c.Fallback.DefaultTarget != "" {
		if _, err := target.Parse(c.Fallback.DefaultTarget); err != nil {
			return fmt.Errorf("fallback.default_target: %w", err)
		}
	}
	if c.Fallback.Account != "" {
		if err := provision.ValidateKey(c.Fallback.Account); err != nil {
			return fmt.Errorf("fallback.account: %w", err)
		}
	}

	switch c.Provision.Backend {
	case BackendLocal:
		if !filepath.IsAbs(c.Local.SocketDir) {
			return fmt.Errorf("local.socket_dir must be an absolute path (got %q)", c.Local.SocketDir)
		}
	case BackendContainer:
		if c.Container.Image == "" {
			return fmt.Errorf("container.image is required for the container backend")
		}
		if !filepath.IsAbs(c.Container.SocketDir) {
			return fmt.Errorf("container.socket_dir must be an absolute path (got %q)", c.Container.SocketDir)
		}
		if c.Container.Command != "" && c.Container.Command != "docker" && c.Container.Command != "podman" {
			return fmt.Errorf("container.command must be docker or podman (got %q)", c.Container.Command)
		}
	default:
		return fmt.Errorf("invalid provision.backend: %s (must be %s or %s)", c.Provision.Backend, BackendLocal, BackendContainer)
	}
	if c.Provision.ReadyTimeout <= 0 {
		return fmt.Errorf("provision.ready_timeout must be positive")
	}
	if c.Provision.PollMultiplier != 0 && c.Provision.PollMultiplier < 1 {
		return fmt.Errorf("provision.poll_multiplier must be at least 1")
	}

	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive")
	}
	return nil
}

// TokenSecret returns the token signing secret.
func (c *Config) TokenSecret() ([]byte, error) {
	switch {
	case c.Token.Secret != "":
		return []byte(c.Token.Secret), nil
	case c.Token.SecretFile != "":
		s, err := readSecretFile(c.Token.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("token secret: %w", err)
		}
		return []byte(s), nil
	case c.Token.UseBBBSalt:
		props, err := bbb.LoadProperties(c.BBB.PropertyFiles...)
		if err != nil {
			return nil, fmt.Errorf("token secret: %w", err)
		}
		if props.SecuritySalt() == "" {
			return nil, fmt.Errorf("token secret: securitySalt not set in %s", strings.Join(c.BBB.PropertyFiles, ", "))
		}
		return []byte(props.SecuritySalt()), nil
	default:
		return nil, fmt.Errorf("no token secret configured")
	}
}

// BBBCredentials returns the meeting API base URL and shared secret,
// reading whichever is not configured from the property files.
func (c *Config) BBBCredentials() (serverURL, secret string, err error) {
	serverURL, secret = c.BBB.ServerURL, c.BBB.Secret
	if secret == "" && c.BBB.SecretFile != "" {
		if secret, err = readSecretFile(c.BBB.SecretFile); err != nil {
			return "", "", fmt.Errorf("bbb secret: %w", err)
		}
	}
	if serverURL != "" && secret != "" {
		return serverURL, secret, nil
	}
	props, err := bbb.LoadProperties(c.BBB.PropertyFiles...)
	if err != nil {
		return "", "", fmt.Errorf("bbb credentials: %w", err)
	}
	if serverURL == "" {
		serverURL = props.ServerURL()
	}
	if secret == "" {
		secret = props.SecuritySalt()
	}
	if serverURL == "" || secret == "" {
		return "", "", fmt.Errorf("bbb credentials: server URL or secret missing")
	}
	return serverURL, secret, nil
}

// LookupHTTPSecret returns the secret for the HTTP identity service.
func (c *Config) LookupHTTPSecret() (string, error) {
	if c.Lookup.HTTPSecretFile != "" {
		return readSecretFile(c.Lookup.HTTPSecretFile)
	}
	return c.Lookup.HTTPSecret, nil
}

// DefaultTarget returns the parsed fallback target, or the zero Target.
func (c *Config) DefaultTarget() target.Target {
	if c.Fallback.DefaultTarget == "" {
		return target.Target{}
	}
	t, _ := target.Parse(c.Fallback.DefaultTarget)
	return t
}

// AuditDir is where per-key audit logs are written.
func (c *Config) AuditDir() string {
	return filepath.Join(c.StateDir, "audit")
}

// PollConfig returns the readiness poll settings.
func (c *Config) PollConfig() provision.PollConfig {
	return provision.PollConfig{
		InitialDelay: c.Provision.PollInitial,
		MaxDelay:     c.Provision.PollMax,
		Multiplier:   c.Provision.PollMultiplier,
	}
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return s, nil
}
