package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/schema"
)

const sample = `
[wire]
int_encoding = "varint"
max_container_depth = 64

[log]
level = "debug"
format = "json"

[peer]
wasm = "guest/peer.wasm"
memory_limit_pages = 16

[[function]]
ordinal = 2
name = "greet"
params = ["option<string>"]
result = "string"

[[function]]
ordinal = 1
name = "add"
params = ["u32", "u32"]
result = "u32"

[[function]]
ordinal = 3
name = "reset"
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.toml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := bincode.DefaultConfig()
	want.IntEncoding = bincode.VarintEncoding
	want.MaxContainerDepth = 64
	if diff := cmp.Diff(want, cfg.Wire()); diff != "" {
		t.Errorf("wire mismatch (-want +got):\n%s", diff)
	}
	if cfg.Log.Level != zapcore.DebugLevel || cfg.Log.Format != FormatJSON {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Peer.Wasm != filepath.Join(dir, "guest", "peer.wasm") {
		t.Errorf("peer.wasm = %q", cfg.Peer.Wasm)
	}
	if cfg.Peer.MemoryLimitPages != 16 {
		t.Errorf("memory_limit_pages = %d", cfg.Peer.MemoryLimitPages)
	}

	var sigs []string
	for _, f := range cfg.Functions {
		sigs = append(sigs, f.Signature())
	}
	wantSigs := []string{"add(u32, u32) -> u32", "greet(option<string>) -> string", "reset()"}
	if diff := cmp.Diff(wantSigs, sigs); diff != "" {
		t.Errorf("functions mismatch (-want +got):\n%s", diff)
	}

	f, ok := cfg.Function("greet")
	if !ok || f.Ordinal != 2 {
		t.Errorf("Function(greet) = %+v, %v", f, ok)
	}
	if _, ok := cfg.Function("missing"); ok {
		t.Error("Function(missing) found")
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(bincode.DefaultConfig(), cfg.Wire()); diff != "" {
		t.Errorf("wire mismatch (-want +got):\n%s", diff)
	}
	if cfg.Log.Level != zapcore.InfoLevel || cfg.Log.Format != FormatConsole {
		t.Errorf("log = %+v", cfg.Log)
	}
	if len(cfg.Functions) != 0 {
		t.Errorf("functions = %v", cfg.Functions)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"syntax", "[wire"},
		{"unknown key", "[wire]\nendian = \"big\""},
		{"int encoding", "[wire]\nint_encoding = \"zigzag\""},
		{"depth", "[wire]\nmax_container_depth = 0"},
		{"seq len", "[wire]\nmax_seq_len = -1"},
		{"level", "[log]\nlevel = \"loud\""},
		{"format", "[log]\nformat = \"xml\""},
		{"pages", "[peer]\nmemory_limit_pages = 70000"},
		{"no name", "[[function]]\nordinal = 1"},
		{"bad ordinal", "[[function]]\nname = \"f\"\nordinal = -1"},
		{"bad param", "[[function]]\nname = \"f\"\nparams = [\"list<\"]"},
		{"bad result", "[[function]]\nname = \"f\"\nresult = \"u128\""},
		{"duplicate name", "[[function]]\nname = \"f\"\nordinal = 1\n[[function]]\nname = \"f\"\nordinal = 2"},
		{"shared ordinal", "[[function]]\nname = \"f\"\nordinal = 1\n[[function]]\nname = \"g\"\nordinal = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, &errors.Error{Phase: errors.PhaseConfig}) {
				t.Errorf("got %v, want a config error", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want ErrNotExist", err)
	}
}

func TestLogger(t *testing.T) {
	for _, format := range []string{FormatConsole, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			cfg := Default()
			cfg.Log.Format = format
			cfg.Log.Level = zapcore.WarnLevel
			l, err := cfg.Logger()
			if err != nil {
				t.Fatal(err)
			}
			if l.Core().Enabled(zapcore.InfoLevel) {
				t.Error("info enabled at warn level")
			}
			if !l.Core().Enabled(zapcore.ErrorLevel) {
				t.Error("error disabled at warn level")
			}
		})
	}
}

func TestFunctionSchema(t *testing.T) {
	cfg, err := Parse(sample)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := cfg.Function("add")
	args, err := schema.ParseArgs(f.Params, "[1, 2]")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{uint32(1), uint32(2)}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}
