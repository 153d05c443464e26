package config

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/schema"
)

// Log output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config is a loaded bridge configuration.
type Config struct {
	Peer      PeerConfig
	Log       LogConfig
	Functions []Function
	wire      bincode.Config
}

// PeerConfig locates the native peer.
type PeerConfig struct {
	// Wasm is the guest module path, resolved against the config file.
	Wasm             string
	MemoryLimitPages uint32
}

// LogConfig controls the logger built by Config.Logger.
type LogConfig struct {
	Format string
	Level  zapcore.Level
}

// Function declares the signature of one native function.
type Function struct {
	Result  wit.Type
	Name    string
	Params  []wit.Type
	Ordinal uint32
}

// Signature renders the function as name(params) -> result.
func (f Function) Signature() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(schema.String(p))
	}
	b.WriteByte(')')
	if f.Result != nil {
		b.WriteString(" -> ")
		b.WriteString(schema.String(f.Result))
	}
	return b.String()
}

type fileConfig struct {
	Wire      wireSection       `toml:"wire"`
	Log       logSection        `toml:"log"`
	Peer      peerSection       `toml:"peer"`
	Functions []functionSection `toml:"function"`
}

type wireSection struct {
	IntEncoding       string `toml:"int_encoding"`
	MaxContainerDepth int    `toml:"max_container_depth"`
	MaxSeqLen         int64  `toml:"max_seq_len"`
	MaxStringSize     int    `toml:"max_string_size"`
}

type logSection struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type peerSection struct {
	Wasm             string `toml:"wasm"`
	MemoryLimitPages int64  `toml:"memory_limit_pages"`
}

type functionSection struct {
	Name    string   `toml:"name"`
	Result  string   `toml:"result"`
	Params  []string `toml:"params"`
	Ordinal int64    `toml:"ordinal"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:  LogConfig{Level: zapcore.InfoLevel, Format: FormatConsole},
		wire: bincode.DefaultConfig(),
	}
}

// Load reads a TOML configuration file. A relative peer path is resolved
// against the file's directory.
func Load(path string) (*Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, errors.Config("load "+path, err)
	}
	cfg, err := build(raw, meta)
	if err != nil {
		return nil, err
	}
	if cfg.Peer.Wasm != "" && !filepath.IsAbs(cfg.Peer.Wasm) {
		cfg.Peer.Wasm = filepath.Join(filepath.Dir(path), cfg.Peer.Wasm)
	}
	return cfg, nil
}

// Parse reads a TOML configuration from text.
func Parse(text string) (*Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return nil, errors.Config("parse", err)
	}
	return build(raw, meta)
}

func build(raw fileConfig, meta toml.MetaData) (*Config, error) {
	if keys := meta.Undecoded(); len(keys) > 0 {
		return nil, invalid("unknown key %q", keys[0].String())
	}

	cfg := Default()

	if meta.IsDefined("wire", "int_encoding") {
		enc, err := bincode.ParseIntEncoding(raw.Wire.IntEncoding)
		if err != nil {
			return nil, errors.Config("wire.int_encoding", err)
		}
		cfg.wire.IntEncoding = enc
	}
	if meta.IsDefined("wire", "max_container_depth") {
		if raw.Wire.MaxContainerDepth <= 0 {
			return nil, invalid("wire.max_container_depth must be positive, got %d", raw.Wire.MaxContainerDepth)
		}
		cfg.wire.MaxContainerDepth = raw.Wire.MaxContainerDepth
	}
	if meta.IsDefined("wire", "max_seq_len") {
		if raw.Wire.MaxSeqLen <= 0 {
			return nil, invalid("wire.max_seq_len must be positive, got %d", raw.Wire.MaxSeqLen)
		}
		cfg.wire.MaxSeqLen = uint64(raw.Wire.MaxSeqLen)
	}
	if meta.IsDefined("wire", "max_string_size") {
		if raw.Wire.MaxStringSize <= 0 {
			return nil, invalid("wire.max_string_size must be positive, got %d", raw.Wire.MaxStringSize)
		}
		cfg.wire.MaxStringSize = raw.Wire.MaxStringSize
	}

	if meta.IsDefined("log", "level") {
		lvl, err := zapcore.ParseLevel(strings.TrimSpace(raw.Log.Level))
		if err != nil {
			return nil, errors.Config("log.level", err)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log", "format") {
		switch f := strings.ToLower(strings.TrimSpace(raw.Log.Format)); f {
		case FormatConsole, FormatJSON:
			cfg.Log.Format = f
		default:
			return nil, invalid("log.format must be %q or %q, got %q", FormatConsole, FormatJSON, raw.Log.Format)
		}
	}

	if meta.IsDefined("peer", "wasm") {
		cfg.Peer.Wasm = strings.TrimSpace(raw.Peer.Wasm)
	}
	if meta.IsDefined("peer", "memory_limit_pages") {
		// wasm32 addresses at most 65536 pages.
		if raw.Peer.MemoryLimitPages <= 0 || raw.Peer.MemoryLimitPages > 65536 {
			return nil, invalid("peer.memory_limit_pages must be in [1, 65536], got %d", raw.Peer.MemoryLimitPages)
		}
		cfg.Peer.MemoryLimitPages = uint32(raw.Peer.MemoryLimitPages)
	}

	for i, f := range raw.Functions {
		fn, err := buildFunction(f)
		if err != nil {
			return nil, errors.Config(fmt.Sprintf("function[%d]", i), err)
		}
		cfg.Functions = append(cfg.Functions, fn)
	}
	if err := checkUnique(cfg.Functions); err != nil {
		return nil, err
	}
	slices.SortFunc(cfg.Functions, func(a, b Function) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	return cfg, nil
}

func buildFunction(f functionSection) (Function, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return Function{}, fmt.Errorf("name is required")
	}
	if f.Ordinal < 0 || f.Ordinal > 1<<32-1 {
		return Function{}, fmt.Errorf("%s: ordinal %d out of range", name, f.Ordinal)
	}
	params, err := schema.ParseList(f.Params)
	if err != nil {
		return Function{}, fmt.Errorf("%s: params: %w", name, err)
	}
	var result wit.Type
	if strings.TrimSpace(f.Result) != "" {
		if result, err = schema.Parse(f.Result); err != nil {
			return Function{}, fmt.Errorf("%s: result: %w", name, err)
		}
	}
	return Function{
		Name:    name,
		Ordinal: uint32(f.Ordinal),
		Params:  params,
		Result:  result,
	}, nil
}

func checkUnique(fns []Function) error {
	names := make(map[string]bool, len(fns))
	ordinals := make(map[uint32]string, len(fns))
	for _, f := range fns {
		if names[f.Name] {
			return invalid("function %q declared twice", f.Name)
		}
		names[f.Name] = true
		if prev, ok := ordinals[f.Ordinal]; ok {
			return invalid("functions %q and %q share ordinal %d", prev, f.Name, f.Ordinal)
		}
		ordinals[f.Ordinal] = f.Name
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Detail(format, args...).
		Build()
}

// Wire returns the wire configuration.
func (c *Config) Wire() bincode.Config {
	return c.wire
}

// Function looks up a declared function by name.
func (c *Config) Function(name string) (Function, bool) {
	for _, f := range c.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

// Logger builds a zap logger for the configured level and format.
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Format != FormatJSON {
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	}
	zc.Level = zap.NewAtomicLevelAt(c.Log.Level)
	zc.OutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return nil, errors.Config("build logger", err)
	}
	return l, nil
}
