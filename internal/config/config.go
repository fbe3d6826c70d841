package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/guseggert/clusterclient/internal/files"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// FileNames are the names Find looks for, in order of preference.
var FileNames = []string{"clusterchild.toml", "clusterchild.yaml", "clusterchild.yml"}

// Config holds the settings of the clusterchild binary that can come from a file.
// Flags override whatever is set here.
type Config struct {
	LogLevel       string   `toml:"log_level" yaml:"log_level"`
	RequestTimeout Duration `toml:"request_timeout" yaml:"request_timeout"`
	EvalTimeout    Duration `toml:"eval_timeout" yaml:"eval_timeout"`
	StatusAddr     string   `toml:"status_addr" yaml:"status_addr"`
	ParentURL      string   `toml:"parent_url" yaml:"parent_url"`
}

func Default() Config {
	return Config{
		LogLevel:       "info",
		RequestTimeout: Duration(30 * time.Second),
	}
}

// Duration is a time.Duration written as a Go duration string, such as "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

// Find looks for a config file in dir and its parents. It returns "" if there is none.
func Find(dir string) (string, error) {
	return files.FindUp(dir, FileNames...)
}

// Load reads the file at path on top of the defaults. The format follows the extension.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("parsing config %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must not be negative")
	}
	if c.EvalTimeout < 0 {
		return errors.New("eval_timeout must not be negative")
	}
	if c.ParentURL != "" && !strings.HasPrefix(c.ParentURL, "ws://") && !strings.HasPrefix(c.ParentURL, "wss://") {
		return fmt.Errorf("parent_url %q is not a WebSocket URL", c.ParentURL)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
