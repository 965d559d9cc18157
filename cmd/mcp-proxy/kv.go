package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kestrelnet/mcp-proxy/internal/bridgeerr"
)

// parseKV parses a repeated KEY=VALUE flag value list into a map,
// failing ConfigInvalid-style on a malformed entry.
func parseKV(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, bridgeerr.New(bridgeerr.ConfigInvalid, "cli", fmt.Errorf("expected KEY=VALUE, got %q", p))
		}
		out[k] = v
	}
	return out, nil
}

func headersFromKV(pairs []string) (http.Header, error) {
	m, err := parseKV(pairs)
	if err != nil {
		return nil, err
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h, nil
}
