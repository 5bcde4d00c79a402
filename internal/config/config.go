// Package config loads the mediarpc command configuration.
//
// Values are layered: built-in defaults, the YAML file, environment
// variables (MEDIARPC_*, with a .env file filling in unset ones), then
// command-line flags that were set explicitly.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFile    = "mediarpc.yaml"
	DefaultEnvFile = ".env"
	envPrefix      = "MEDIARPC_"
)

type Config struct {
	URL            string        `yaml:"url" validate:"required,url"`
	AccessToken    string        `yaml:"access_token"`
	Heartbeat      time.Duration `yaml:"heartbeat" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	LogLevel       string        `yaml:"log_level" validate:"oneof=trace debug info warn error disabled"`
	SuccessField   string        `yaml:"success_field" validate:"oneof=result value"`
	Listen         string        `yaml:"listen" validate:"required,hostname_port"`
}

func Default() Config {
	return Config{
		URL:            "ws://localhost:8888/kurento",
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
		SuccessField:   "result",
		Listen:         "127.0.0.1:8888",
	}
}

// RegisterFlags adds the configuration flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.StringP("config", "c", DefaultFile, "configuration file")
	flags.String("url", def.URL, "media server WebSocket URL")
	flags.String("access-token", "", "access token sent with the connection")
	flags.Duration("heartbeat", def.Heartbeat, "ping interval, 0 disables the heartbeat")
	flags.Duration("timeout", def.RequestTimeout, "request timeout")
	flags.String("log-level", def.LogLevel, "log level")
	flags.String("success-field", def.SuccessField, `response member carrying results ("result" or "value")`)
	flags.String("listen", def.Listen, "address the serve command listens on")
}

// Loader reads configuration from the process environment unless told
// otherwise.
type Loader struct {
	EnvFile   string
	LookupEnv func(key string) (string, bool)
}

func Load(flags *pflag.FlagSet) (*Config, error) {
	return Loader{}.Load(flags)
}

func (l Loader) Load(flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	path := DefaultFile
	explicit := false
	if flags != nil && flags.Lookup("config") != nil {
		path, _ = flags.GetString("config")
		explicit = flags.Changed("config")
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	lookup, err := l.lookup()
	if err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(lookup); err != nil {
		return nil, err
	}

	if flags != nil {
		if err := cfg.loadFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string, explicit bool) error {
	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open configuration: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// lookup resolves variables from the environment first and the env file
// second.
func (l Loader) lookup() (func(string) (string, bool), error) {
	envFile := l.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	env := l.LookupEnv
	if env == nil {
		env = os.LookupEnv
	}

	dotenv, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		dotenv = nil
	}

	return func(key string) (string, bool) {
		if v, ok := env(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

func (c *Config) loadEnv(lookup func(string) (string, bool)) error {
	for name, set := range c.setters() {
		key := envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v, ok := lookup(key); ok {
			if err := set(v); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}
	return nil
}

func (c *Config) loadFlags(flags *pflag.FlagSet) error {
	setters := c.setters()

	var err error
	flags.Visit(func(f *pflag.Flag) {
		set, ok := setters[f.Name]
		if !ok || err != nil {
			return
		}
		if setErr := set(f.Value.String()); setErr != nil {
			err = fmt.Errorf("invalid --%s: %w", f.Name, setErr)
		}
	})
	return err
}

// setters maps flag names to parsers of the matching field. Environment
// variable names derive from the same keys.
func (c *Config) setters() map[string]func(string) error {
	str := func(dst *string) func(string) error {
		return func(v string) error {
			*dst = v
			return nil
		}
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	return map[string]func(string) error{
		"url":           str(&c.URL),
		"access-token":  str(&c.AccessToken),
		"heartbeat":     dur(&c.Heartbeat),
		"timeout":       dur(&c.RequestTimeout),
		"log-level":     str(&c.LogLevel),
		"success-field": str(&c.SuccessField),
		"listen":        str(&c.Listen),
	}
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}()
