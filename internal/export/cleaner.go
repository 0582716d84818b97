// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package export

import (
	"context"
	"time"

	"github.com/tomtom215/sensoria/internal/logging"
)

// CleanupStore is the datadump retention surface of the database layer.
type CleanupStore interface {
	StaleDatadumpTickets(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteDatadump(ctx context.Context, ticket string) error
}

// FlagReader reads the cleanup-suppression flags the pipeline refreshes on
// every part write.
type FlagReader interface {
	GetFlag(name string) (bool, error)
}

// Cleaner sweeps aged-out datadumps. A ticket's parts are deleted once they
// are older than the retention window and its suppress-cleanup flag has
// expired, so an export being actively written or freshly completed is never
// swept out from under a client.
type Cleaner struct {
	store     CleanupStore
	flags     FlagReader
	interval  time.Duration
	retention time.Duration
}

// NewCleaner creates the sweep. A non-positive interval defaults to one hour.
func NewCleaner(store CleanupStore, flags FlagReader, interval, retention time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleaner{
		store:     store,
		flags:     flags,
		interval:  interval,
		retention: retention,
	}
}

// Serve implements suture.Service: sweep on start, then on every tick.
func (c *Cleaner) Serve(ctx context.Context) error {
	c.Sweep(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass. Errors are logged, not returned: a failed
// sweep retries on the next tick.
func (c *Cleaner) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-c.retention)
	tickets, err := c.store.StaleDatadumpTickets(ctx, cutoff)
	if err != nil {
		logging.Warn().Err(err).Msg("Datadump cleanup scan failed")
		return
	}

	for _, ticket := range tickets {
		suppressed, err := c.flags.GetFlag(ticket + "_suppresscleanup")
		if err != nil {
			logging.Warn().Err(err).Str("ticket", ticket).Msg("Suppress flag read failed; skipping")
			continue
		}
		if suppressed {
			continue
		}
		if err := c.store.DeleteDatadump(ctx, ticket); err != nil {
			logging.Warn().Err(err).Str("ticket", ticket).Msg("Datadump delete failed")
			continue
		}
		logging.Info().Str("ticket", ticket).Msg("Aged-out datadump removed")
	}
}

// String implements fmt.Stringer for supervisor logging.
func (c *Cleaner) String() string {
	return "export-cleaner"
}
