package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/kestrelnet/mcp-proxy/internal/bridgeerr"
	"github.com/kestrelnet/mcp-proxy/internal/telemetry"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

// exit codes per spec §7: clean, runtime error, config error.
const (
	exitOK            = 0
	exitRuntimeError  = 1
	exitConfigInvalid = 2
)

// run parses args, configures logging, selects mode 1 (stdio->remote) or
// mode 2 (HTTP front-end) by inspecting the positional command_or_url
// (spec §6: an absolute http/https URL means mode 1), and dispatches.
func run(args []string) int {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "mcp-proxy"
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return exitOK
		}
		return exitConfigInvalid
	}

	if opts.Version {
		fmt.Println("mcp-proxy", version)
		return exitOK
	}

	if err := telemetry.Configure(opts.LogLevel, opts.debug()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigInvalid
	}
	log := telemetry.Component("mcp-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remoteURL, isRemote := remoteURLOf(opts.Positional.CommandOrURL)

	var err error
	if isRemote {
		err = runRemote(ctx, &opts, remoteURL, log)
	} else {
		err = runHTTPFrontEnd(ctx, &opts, log)
	}
	if err == nil {
		return exitOK
	}

	log.Error().Err(err).Msg("mcp-proxy exiting")
	if bridgeerr.As(err, bridgeerr.ConfigInvalid) {
		return exitConfigInvalid
	}
	return exitRuntimeError
}

// remoteURLOf reports whether commandOrURL is an absolute http(s) URL,
// selecting mode 1 (spec §6); anything else, including an empty string,
// selects mode 2.
func remoteURLOf(commandOrURL string) (string, bool) {
	if commandOrURL == "" {
		return "", false
	}
	u, err := url.Parse(commandOrURL)
	if err != nil || !u.IsAbs() {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return commandOrURL, true
}
