// Package config loads the proxy's settings from command-line flags and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/cyberinferno/bcproxy/codec"
	"github.com/cyberinferno/bcproxy/logger"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the proxy.
type Config struct {
	Listen string `yaml:"listen"`
	Server string `yaml:"server"`
	Mapper string `yaml:"mapper"`

	// DB is the persistence URL. Empty disables persistence.
	DB string `yaml:"db"`

	Monster        bool   `yaml:"monster"`
	MonsterPattern string `yaml:"monster_pattern"`

	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`

	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	MapperWriteTimeout time.Duration `yaml:"mapper_write_timeout"`
	DedupeTTL          time.Duration `yaml:"dedupe_ttl"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Listen:             "127.0.0.1:9999",
		Server:             "83.145.249.153:2023",
		Mapper:             "127.0.0.1:0",
		LogLevel:           "info",
		ConnectTimeout:     10 * time.Second,
		MapperWriteTimeout: 5 * time.Second,
		DedupeTTL:          10 * time.Minute,
	}
}

func bindFlags(fs *pflag.FlagSet, cfg *Config, path *string) {
	fs.StringVarP(&cfg.Listen, "listen", "l", cfg.Listen, "address to accept the client on")
	fs.StringVarP(&cfg.Server, "server", "s", cfg.Server, "upstream game server address")
	fs.StringVar(&cfg.Mapper, "mapper", cfg.Mapper, "address each session binds for mapper clients")
	fs.StringVar(&cfg.DB, "db", cfg.DB, "persistence url (redis://, bolt://, postgres://)")
	fs.BoolVar(&cfg.Monster, "monster", cfg.Monster, "parse combat reports sent by the client")
	fs.StringVar(&cfg.MonsterPattern, "monster-pattern", cfg.MonsterPattern, "regular expression with name, area and exp groups")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "write daily rotated log files to this directory")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "upstream connect timeout")
	fs.DurationVar(&cfg.MapperWriteTimeout, "mapper-write-timeout", cfg.MapperWriteTimeout, "deadline for one write to a mapper")
	fs.DurationVar(&cfg.DedupeTTL, "dedupe-ttl", cfg.DedupeTTL, "window in which an unchanged room is not saved again")
	fs.StringVar(path, "config", *path, "YAML configuration file")
	fs.BoolP("help", "h", false, "show help")
}

// Load parses args. When --config names a file, its values replace the
// defaults and flags given explicitly still win.
//
// Parameters:
//   - name: Program name used in usage output
//   - args: Arguments without the program name
//   - usage: Where help is printed
//
// Returns:
//   - The resulting Config, not yet validated
//   - pflag.ErrHelp when help was requested, or a parse error
func Load(name string, args []string, usage io.Writer) (Config, error) {
	cfg := Default()
	var path string

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(usage)
	bindFlags(fs, &cfg, &path)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if help, _ := fs.GetBool("help"); help {
		fs.PrintDefaults()
		return Config{}, pflag.ErrHelp
	}
	if rest := fs.Args(); len(rest) > 0 {
		return Config{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if path == "" {
		return cfg, nil
	}

	fromFile := Default()
	if err := readFile(path, &fromFile); err != nil {
		return Config{}, err
	}

	// Parse again on top of the file so only explicit flags override it.
	fs = pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bindFlags(fs, &fromFile, &path)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return fromFile, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func checkAddr(name, addr string, allowZero bool) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 || (n == 0 && !allowZero) {
		return fmt.Errorf("%s: invalid port %q", name, port)
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if err := checkAddr("listen", c.Listen, true); err != nil {
		errs = append(errs, err)
	}
	if err := checkAddr("server", c.Server, false); err != nil {
		errs = append(errs, err)
	}
	if err := checkAddr("mapper", c.Mapper, true); err != nil {
		errs = append(errs, err)
	}
	if _, err := codec.CompileMonsterPattern(c.MonsterPattern); err != nil {
		errs = append(errs, fmt.Errorf("monster-pattern: %w", err))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}

	for name, d := range map[string]time.Duration{
		"connect-timeout":      c.ConnectTimeout,
		"mapper-write-timeout": c.MapperWriteTimeout,
		"dedupe-ttl":           c.DedupeTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", name, d))
		}
	}

	return errors.Join(errs...)
}

// MonsterRegexp returns the combat pattern, or nil when combat parsing is
// disabled.
func (c Config) MonsterRegexp() (*regexp.Regexp, error) {
	if !c.Monster {
		return nil, nil
	}
	return codec.CompileMonsterPattern(c.MonsterPattern)
}
