// Package main implements a one-shot CLI that seeds a coordinator data
// directory with an initial targets.json, for bootstrapping a fresh
// deployment before the coordinator's own file watcher takes over.
//
// Usage (from the server module directory):
//
//	go run ./cmd/seed \
//	  --data-dir ./data \
//	  --target "1:Example Site:http:https://example.com:30000:5000" \
//	  --target "2:Example Host:icmp:example.com:60000:3000"
//
// Each --target flag is "id:name:kind:endpoint:intervalMs:timeoutMs"; the
// endpoint may itself contain colons (as an http URL does).
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/stormmon/storm/server/internal/targetstore"
	"github.com/stormmon/storm/shared/types"
)

type targetFlags []string

func (t *targetFlags) String() string { return strings.Join(*t, ",") }
func (t *targetFlags) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dataDir := flag.String("data-dir", envOrDefault("STORM_DATA_DIR", "./data"), "Directory containing config/targets.json")
	var targetSpecs targetFlags
	flag.Var(&targetSpecs, "target", "id:name:kind:endpoint:intervalMs:timeoutMs (repeatable)")
	flag.Parse()

	if len(targetSpecs) == 0 {
		return fmt.Errorf("at least one --target is required")
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync() //nolint:errcheck

	path := filepath.Join(*dataDir, "config", "targets.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	store, err := targetstore.New(path, logger)
	if err != nil {
		return fmt.Errorf("open target store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	for _, spec := range targetSpecs {
		t, err := parseTargetSpec(spec)
		if err != nil {
			return fmt.Errorf("parse --target %q: %w", spec, err)
		}
		if err := store.Upsert(t); err != nil {
			return fmt.Errorf("seed target %d: %w", t.ID, err)
		}
		fmt.Printf("seeded target %d: %s (%s %s)\n", t.ID, t.Name, t.Kind, t.Endpoint)
	}

	return nil
}

func parseTargetSpec(spec string) (types.Target, error) {
	// id, name and kind come from the front, intervalMs and timeoutMs from
	// the back; everything in between is the endpoint.
	parts := strings.Split(spec, ":")
	n := len(parts)
	if n < 6 {
		return types.Target{}, fmt.Errorf("expected at least 6 colon-separated fields, got %d", n)
	}

	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return types.Target{}, fmt.Errorf("id: %w", err)
	}
	intervalMs, err := strconv.ParseInt(parts[n-2], 10, 64)
	if err != nil {
		return types.Target{}, fmt.Errorf("intervalMs: %w", err)
	}
	timeoutMs, err := strconv.ParseInt(parts[n-1], 10, 64)
	if err != nil {
		return types.Target{}, fmt.Errorf("timeoutMs: %w", err)
	}

	t := types.Target{
		ID:         id,
		Name:       parts[1],
		Kind:       types.TargetKind(parts[2]),
		Endpoint:   strings.Join(parts[3:n-2], ":"),
		IntervalMs: intervalMs,
		TimeoutMs:  timeoutMs,
	}
	if err := t.Validate(); err != nil {
		return types.Target{}, err
	}
	return t, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
