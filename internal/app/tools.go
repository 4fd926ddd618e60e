package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/router-for-me/hazardguard/internal/config"
	"github.com/router-for-me/hazardguard/internal/guard"
	"github.com/router-for-me/hazardguard/internal/hazards"
	"github.com/router-for-me/hazardguard/internal/kvstore"
)

// ErrMemoryStore is returned by store commands when the configured store is
// process local and cannot be reached from the CLI.
var ErrMemoryStore = errors.New("store backend is memory; blockages live in the server process, use the admin API instead")

// CheckHazards validates a hazards file and writes the ordered registry to w.
func CheckHazards(path string, w io.Writer) error {
	defs, errLoad := hazards.LoadFile(path)
	if errLoad != nil {
		return errLoad
	}
	registry, errBuild := hazards.Build(defs, nil)
	if errBuild != nil {
		return errBuild
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tTYPE\tBUCKET\tLEAK/S\tTIMEOUT")
	for i, hazard := range registry.All() {
		bucket, leak, timeout := "-", "-", "-"
		if hazard.HasBucket() {
			bucket = fmt.Sprintf("%d", hazard.BucketSize)
			leak = fmt.Sprintf("%g", hazard.BucketLeak)
		}
		if hazard.CanBlock() {
			timeout = hazard.Timeout.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, hazard.Name, hazard.Type, bucket, leak, timeout)
	}
	return tw.Flush()
}

// Unblock lifts a client's blockage in the configured shared store and
// returns the hazard that caused it.
func Unblock(ctx context.Context, appCfg config.AppConfig, client string) (string, error) {
	cfg, errLoad := LoadConfig(appCfg)
	if errLoad != nil {
		return "", errLoad
	}
	if cfg.Store.Backend != kvstore.BackendRedis {
		return "", ErrMemoryStore
	}
	storeCfg := storeConfig(cfg)
	storeCfg.Fallback = kvstore.FallbackNone
	store := kvstore.NewManager(storeCfg, nil, nil)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	blockages := guard.NewBlockageStore(store, guard.KeyBuilder{Prefix: cfg.Store.Prefix})
	blockage, found, errPeek := blockages.Peek(ctx, client)
	if errPeek != nil {
		return "", errPeek
	}
	if !found {
		return "", fmt.Errorf("client %s is not blocked", client)
	}
	if errLift := blockages.Lift(ctx, client); errLift != nil {
		return "", errLift
	}
	return blockage.Name, nil
}
