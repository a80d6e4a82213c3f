// Package hostconfig loads the manager's on-disk configuration — plugin
// directory, hot-reload settings, and security policy — through Viper,
// the configuration library the teacher repo's go.mod carries but never
// wires into its own binaries. Environment-variable overrides follow
// the PLUGINHOST_ prefix convention open-policy-agent-opa's cmd/internal
// /env package uses for its cobra flags.
package hostconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/policy"
)

// PolicyConfig is the on-disk shape of a SecurityPolicy. Preset, when
// non-empty, selects one of the built-in presets as a base; any other
// field explicitly present in the config file or environment overrides
// that preset's value.
type PolicyConfig struct {
	Preset            string   `mapstructure:"preset"`
	Allowed           []string `mapstructure:"allowed"`
	Denied            []string `mapstructure:"denied"`
	RequireSignature  bool     `mapstructure:"require_signature"`
	MaxPluginMemoryMB uint32   `mapstructure:"max_plugin_memory_mb"`
	SandboxEnabled    bool     `mapstructure:"sandbox_enabled"`
}

// Config is the top-level manager configuration.
type Config struct {
	PluginDir           string       `mapstructure:"plugin_dir"`
	HotReloadEnabled    bool         `mapstructure:"hot_reload_enabled"`
	HotReloadDebounceMS int          `mapstructure:"hot_reload_debounce_ms"`
	LogLevel            string       `mapstructure:"log_level"`
	Policy              PolicyConfig `mapstructure:"policy"`
}

func presetPolicy(name string) (policy.SecurityPolicy, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return policy.Default(), nil
	case "strict":
		return policy.Strict(), nil
	case "permissive":
		return policy.Permissive(), nil
	default:
		return policy.SecurityPolicy{}, fmt.Errorf("hostconfig: unknown policy preset %q", name)
	}
}

func toPermissions(names []string) []manifest.Permission {
	out := make([]manifest.Permission, len(names))
	for i, n := range names {
		out[i] = manifest.Permission(n)
	}
	return out
}

// Load reads configuration from path (if it exists) and overlays
// PLUGINHOST_-prefixed environment variables, resolving the final
// SecurityPolicy from the chosen preset plus any explicit overrides.
func Load(path string) (*Config, policy.SecurityPolicy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("pluginhost")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("plugin_dir", "./plugins")
	v.SetDefault("hot_reload_enabled", false)
	v.SetDefault("hot_reload_debounce_ms", 250)
	v.SetDefault("log_level", "info")
	v.SetDefault("policy.preset", "default")

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, policy.SecurityPolicy{}, fmt.Errorf("hostconfig: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, policy.SecurityPolicy{}, fmt.Errorf("hostconfig: unmarshal: %w", err)
	}

	base, err := presetPolicy(cfg.Policy.Preset)
	if err != nil {
		return nil, policy.SecurityPolicy{}, err
	}
	if v.IsSet("policy.allowed") {
		base.Allowed = toPermissions(cfg.Policy.Allowed)
	}
	if v.IsSet("policy.denied") {
		base.Denied = toPermissions(cfg.Policy.Denied)
	}
	if v.IsSet("policy.require_signature") {
		base.RequireSignature = cfg.Policy.RequireSignature
	}
	if v.IsSet("policy.max_plugin_memory_mb") {
		base.MaxPluginMemoryMB = cfg.Policy.MaxPluginMemoryMB
	}
	if v.IsSet("policy.sandbox_enabled") {
		base.SandboxEnabled = cfg.Policy.SandboxEnabled
	}

	return &cfg, base, nil
}
