package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Keys shared by flags, environment variables (DBCOP_ prefix, dashes become
// underscores) and defaults.
const (
	KeyListenAddr = "listen-addr"
	KeyDBPath     = "db-path"
	KeyLogLevel   = "log-level"
	KeyLogFormat  = "log-format"
	KeyDelay      = "delay"
	KeyUser       = "user"
	KeyPassword   = "password"
	KeyBoltPath   = "bolt-path"
)

const (
	envPrefix = "DBCOP"

	defaultListenAddr = ":8080"
	defaultDBPath     = "dbcop.db"
	defaultLogLevel   = "info"
	defaultLogFormat  = "json"
	defaultDelay      = 100 * time.Millisecond
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	LogFormat  string
	Delay      time.Duration
	User       string
	Password   string
	BoltPath   string
}

// NewViper returns a viper instance with the defaults set and bound to the
// DBCOP_* environment. Callers bind their command flags on top.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyListenAddr, defaultListenAddr)
	v.SetDefault(KeyDBPath, defaultDBPath)
	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.SetDefault(KeyLogFormat, defaultLogFormat)
	v.SetDefault(KeyDelay, defaultDelay)
	v.SetDefault(KeyUser, "")
	v.SetDefault(KeyPassword, "")
	v.SetDefault(KeyBoltPath, "")
	return v
}

// Load reads the configuration from v.
func Load(v *viper.Viper) Config {
	return Config{
		ListenAddr: v.GetString(KeyListenAddr),
		DBPath:     v.GetString(KeyDBPath),
		LogLevel:   parseLogLevel(v.GetString(KeyLogLevel)),
		LogFormat:  strings.ToLower(v.GetString(KeyLogFormat)),
		Delay:      v.GetDuration(KeyDelay),
		User:       v.GetString(KeyUser),
		Password:   v.GetString(KeyPassword),
		BoltPath:   v.GetString(KeyBoltPath),
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at the configured
// level. format "text" selects the text handler; anything else is JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewDriverLogger returns the logrus entry database drivers log through.
// Driver output is only interesting when debugging, so it is dropped unless
// level is debug.
func NewDriverLogger(w io.Writer, level slog.Level) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(w)
	if level > slog.LevelDebug {
		l.SetOutput(io.Discard)
	}
	return logrus.NewEntry(l).WithField("component", "driver")
}

// ClusterFile describes a cluster under test.
type ClusterFile struct {
	Backend  string   `yaml:"backend"`
	Nodes    []string `yaml:"nodes"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	BoltPath string   `yaml:"bolt_path"`
}

// ParseClusterFile reads a YAML cluster description.
func ParseClusterFile(path string) (*ClusterFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read cluster file")
	}
	var cf ClusterFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, errors.Wrapf(err, "parse cluster file %s", path)
	}
	if cf.Backend == "" {
		return nil, errors.WithHint(errors.Newf("cluster file %s: backend is missing", path),
			"set the backend key, e.g. backend: mysql")
	}
	if len(cf.Nodes) == 0 {
		return nil, errors.Newf("cluster file %s: no nodes", path)
	}
	return &cf, nil
}
