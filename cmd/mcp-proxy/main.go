// Command mcp-proxy bridges one MCP peer to another across transports:
// stdio to a remote SSE/Streamable HTTP server, or an HTTP front-end to
// one or more named stdio servers spawned on demand.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:]))
}
