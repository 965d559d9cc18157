package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelnet/mcp-proxy/internal/registry"
	"github.com/kestrelnet/mcp-proxy/server"
)

// shutdownGrace bounds how long ListenAndServe's Shutdown waits for
// in-flight requests before the process exits anyway (spec §5).
const shutdownGrace = 5 * time.Second

// runHTTPFrontEnd implements mode 2 (spec §1): an HTTP server exposing
// the default server (if any) and every Named Server Registry entry,
// spawning one stdio child per ingress session.
func runHTTPFrontEnd(ctx context.Context, opts *Options, log zerolog.Logger) error {
	reg, err := buildRegistry(ctx, opts)
	if err != nil {
		return fmt.Errorf("mcp-proxy: %w", err)
	}
	def, err := buildDefaultEntry(opts)
	if err != nil {
		return fmt.Errorf("mcp-proxy: %w", err)
	}
	if def == nil && len(reg.Names()) == 0 {
		return fmt.Errorf("mcp-proxy: no default server and no --named-server entries configured")
	}

	front := server.New(reg, def, opts.stateless(), opts.AllowOrigin, log)

	addr := net.JoinHostPort(opts.resolvedHost(), strconv.Itoa(opts.resolvedPort()))
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: front.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("mcp-proxy HTTP front-end listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("mcp-proxy: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("mcp-proxy: graceful shutdown: %w", err)
		}
		return nil
	}
}

// buildRegistry loads the Named Server Registry from --named-server-config
// when given, otherwise from repeated --named-server NAME=CMDSTRING flags
// (spec §4.3: the two sources are exclusive; any --named-server flags are
// ignored when a config file is given).
func buildRegistry(ctx context.Context, opts *Options) (*registry.Registry, error) {
	if opts.NamedServerConfig != "" {
		return registry.Load(ctx, opts.NamedServerConfig)
	}
	entries := make(map[string]registry.Entry, len(opts.NamedServer))
	for _, spec := range opts.NamedServer {
		name, cmdline, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("--named-server expects NAME=CMDSTRING, got %q", spec)
		}
		fields := strings.Fields(cmdline)
		if len(fields) == 0 {
			return nil, fmt.Errorf("--named-server %q: empty command", name)
		}
		entries[name] = registry.Entry{
			Command: fields[0],
			Args:    fields[1:],
		}
	}
	return registry.New(entries)
}

// buildDefaultEntry turns the positional command/args plus --env/--cwd/
// --pass-environment into the unnamed default server's Entry, or nil when
// no positional command was given (spec §6: "if only --named-server* are
// provided, there is no default server").
func buildDefaultEntry(opts *Options) (*registry.Entry, error) {
	if opts.Positional.CommandOrURL == "" {
		return nil, nil
	}
	env, err := parseKV(opts.Env)
	if err != nil {
		return nil, err
	}
	return &registry.Entry{
		Command:     opts.Positional.CommandOrURL,
		Args:        opts.Positional.Args,
		Env:         env,
		Cwd:         opts.Cwd,
		PassEnviron: opts.passEnvironment(),
	}, nil
}
