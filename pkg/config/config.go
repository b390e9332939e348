package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Options controls where Load looks for configuration.
type Options struct {
	// Name is the config file base name looked up in ./config and . (e.g. "oracle-operator").
	Name string
	// File, when set, is read instead of the Name lookup and must exist.
	File string
	// EnvPrefix enables overrides such as ORACLE_CHAIN_RPC_URL for chain.rpc_url.
	EnvPrefix string
	// Defaults are registered before reading; every key that may come from the
	// environment needs one, otherwise viper will not unmarshal it.
	Defaults map[string]interface{}
	// EnvAliases binds extra environment names to a key, tried after the prefixed name.
	EnvAliases map[string][]string
}

// Load reads file + environment into out. A missing file is fine when the lookup is by
// name, the environment alone can configure the process.
func Load(opts Options, out interface{}) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range opts.Defaults {
		v.SetDefault(k, val)
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range opts.EnvAliases {
		bind := []string{key, envName(opts.EnvPrefix, key)}
		bind = append(bind, names...)
		if err := v.BindEnv(bind...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(opts.Name)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return v, nil
}

// Watch calls onChange whenever the loaded file changes on disk. It never re-decodes:
// the running process keeps the configuration it started with.
func Watch(v *viper.Viper, onChange func(name string)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
			onChange(e.Name)
		}
	})
	v.WatchConfig()
}

func envName(prefix, key string) string {
	name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}
