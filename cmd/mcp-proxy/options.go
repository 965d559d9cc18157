package main

// Options mirrors the teacher's ClientOptions/ServerOptions convention
// (short/long/description/choice tags via github.com/jessevdk/go-flags),
// collapsed onto the flat CLI surface the proxy itself needs (spec §6)
// rather than the teacher's nested Transport/Auth sub-structs, since the
// bridge's client-side and stdio-spawn-side options never co-exist with
// its server-side ones in a single invocation.
type Options struct {
	Positional struct {
		CommandOrURL string   `positional-arg-name:"command_or_url" description:"a remote MCP URL (stdio-to-remote mode) or the default server's command (HTTP front-end mode)"`
		Args         []string `positional-arg-name:"args" description:"arguments passed to command_or_url when it names a command"`
	} `positional-args:"yes"`

	// Client-side (stdio -> remote mode).
	Headers      []string `short:"H" long:"headers" description:"outbound HTTP header as KEY=VALUE, repeatable"`
	Transport    string   `long:"transport" choice:"sse" choice:"streamablehttp" default:"sse" description:"remote transport carrier"`
	VerifySSL    string   `long:"verify-ssl" description:"true/false, or a CA bundle path; accepted but not applied: outbound TLS always uses the default certificate verification"`
	NoVerifySSL  bool     `long:"no-verify-ssl" description:"accepted but not applied: outbound TLS certificates are always verified"`
	ClientID     string   `long:"client-id" description:"OAuth2 client-credentials client id"`
	ClientSecret string   `long:"client-secret" description:"OAuth2 client-credentials client secret"`
	TokenURL     string   `long:"token-url" description:"OAuth2 client-credentials token endpoint"`

	// Stdio-spawn side (HTTP front-end mode, default server).
	Env               []string `short:"e" long:"env" description:"default server environment variable as KEY=VALUE, repeatable"`
	Cwd               string   `long:"cwd" description:"default server working directory"`
	PassEnvironment   bool     `long:"pass-environment" description:"inherit the proxy's own environment into the default server"`
	NoPassEnvironment bool     `long:"no-pass-environment"`

	// Server-side (HTTP front-end mode).
	Port              int      `long:"port" description:"HTTP listen port"`
	Host              string   `long:"host" default:"127.0.0.1" description:"HTTP listen host"`
	Stateless         bool     `long:"stateless" description:"tear down and rebuild the Streamable HTTP bridge on every request"`
	NoStateless       bool     `long:"no-stateless"`
	AllowOrigin       []string `long:"allow-origin" description:"allowed CORS Origin, repeatable; absent denies all cross-origin requests"`
	NamedServer       []string `long:"named-server" description:"NAME CMDSTRING, repeatable (as a single NAME=CMDSTRING argument)"`
	NamedServerConfig string   `long:"named-server-config" description:"path to a mcpServers JSON config file, exclusive with --named-server"`

	// Deprecated aliases (spec §6).
	SSEPort int    `long:"sse-port" description:"deprecated alias for --port"`
	SSEHost string `long:"sse-host" description:"deprecated alias for --host"`

	LogLevel string `long:"log-level" description:"zerolog level name"`
	Debug    bool   `long:"debug" description:"debug logging; wins over --log-level"`
	NoDebug  bool   `long:"no-debug"`

	Version bool `long:"version" description:"print the proxy version and exit"`
}

func (o *Options) passEnvironment() bool {
	return o.PassEnvironment && !o.NoPassEnvironment
}

func (o *Options) stateless() bool {
	return o.Stateless && !o.NoStateless
}

func (o *Options) debug() bool {
	return o.Debug && !o.NoDebug
}

func (o *Options) resolvedHost() string {
	if o.SSEHost != "" {
		return o.SSEHost
	}
	return o.Host
}

func (o *Options) resolvedPort() int {
	if o.SSEPort != 0 {
		return o.SSEPort
	}
	return o.Port
}
