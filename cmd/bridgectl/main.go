package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/native-bridge/config"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to bridge.toml")
		wasmFile    = flag.String("wasm", "", "Path to peer wasm module (overrides [peer] wasm)")
		funcName    = flag.String("fn", "", "Function to call")
		argsJSON    = flag.String("args", "[]", "Arguments as a JSON array")
		list        = flag.Bool("list", false, "List declared functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	if *configFile == "" && *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: bridgectl -config <bridge.toml> [-wasm <peer.wasm>] -list")
		fmt.Fprintln(os.Stderr, "       bridgectl -config <bridge.toml> -fn <name> [-args '[...]']")
		fmt.Fprintln(os.Stderr, "       bridgectl -config <bridge.toml> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile, *wasmFile, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *list {
		listFunctions(os.Stdout, cfg, isTerminal(os.Stdout))
		return
	}

	if *interactive {
		if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
			fmt.Fprintln(os.Stderr, "Error: -i needs an interactive terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *funcName == "" {
		fmt.Fprintln(os.Stderr, "Error: -fn, -list or -i is required")
		os.Exit(1)
	}
	if err := run(cfg, *funcName, *argsJSON); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path, wasmFile string, verbose bool) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if wasmFile != "" {
		cfg.Peer.Wasm = wasmFile
	}
	if verbose {
		cfg.Log.Level = zapcore.DebugLevel
	}
	return cfg, nil
}

func run(cfg *config.Config, funcName, argsJSON string) error {
	ctx := context.Background()

	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	s, err := openWasm(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(ctx); err != nil {
			log.Warn("close session", zap.Error(err))
		}
	}()

	out, err := s.callJSON(ctx, funcName, argsJSON)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}
	fmt.Println(out)
	return nil
}

func listFunctions(w io.Writer, cfg *config.Config, color bool) {
	if cfg.Peer.Wasm != "" {
		fmt.Fprintf(w, "Peer: %s\n", cfg.Peer.Wasm)
	}
	fmt.Fprintf(w, "Wire: %s\n", cfg.Wire().IntEncoding)
	if len(cfg.Functions) == 0 {
		fmt.Fprintln(w, "\nNo functions declared.")
		return
	}
	fmt.Fprintf(w, "\nFunctions:\n")
	for _, f := range cfg.Functions {
		sig := f.Signature()
		if color {
			sig = formatFunc(f)
		}
		fmt.Fprintf(w, "  %3d  %s\n", f.Ordinal, sig)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
