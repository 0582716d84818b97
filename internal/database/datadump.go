// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package database

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/sensoria/internal/logging"
	"github.com/tomtom215/sensoria/internal/models"
)

// InsertDatadumpPart persists one export chunk in its own transaction. A
// failed commit rolls back and surfaces the error so the export pipeline can
// mark the ticket failed instead of silently losing a part.
func (db *DB) InsertDatadumpPart(ctx context.Context, part models.DatadumpPart) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin datadump transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datadump (id, ticket, part, total, data)
		VALUES (?, ?, ?, ?, ?)`,
		part.ID, part.Ticket, part.Part, part.Total, string(part.Data))
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warn().Err(rbErr).Str("ticket", part.Ticket).Int("part", part.Part).
				Msg("Datadump rollback failed")
		}
		return fmt.Errorf("failed to persist datadump part %d for ticket %s: %w",
			part.Part, part.Ticket, err)
	}
	return nil
}

// InsertDatadumpSummary persists the part-0 summary record for a completed
// export.
func (db *DB) InsertDatadumpSummary(ctx context.Context, id, ticket string, total int, summary models.ExportSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode export summary: %w", err)
	}
	return db.InsertDatadumpPart(ctx, models.DatadumpPart{
		ID:     id,
		Ticket: ticket,
		Part:   0,
		Total:  total,
		Data:   data,
	})
}

// DatadumpSummary returns the part-0 summary record of a completed export,
// or sql.ErrNoRows when the ticket has no summary yet.
func (db *DB) DatadumpSummary(ctx context.Context, ticket string) (models.ExportSummary, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT data FROM datadump WHERE ticket = ? AND part = 0`, ticket).
		Scan(&data)
	if err != nil {
		return models.ExportSummary{}, err
	}

	var summary models.ExportSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return models.ExportSummary{}, fmt.Errorf("malformed export summary for ticket %s: %w", ticket, err)
	}
	return summary, nil
}

// DatadumpPart returns one data chunk of an export, or sql.ErrNoRows.
func (db *DB) DatadumpPart(ctx context.Context, ticket string, part int) (models.DatadumpPart, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	p := models.DatadumpPart{Ticket: ticket, Part: part}
	var data string
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, total, data FROM datadump
		WHERE ticket = ? AND part = ?`, ticket, part).
		Scan(&p.ID, &p.Total, &data)
	if err != nil {
		return models.DatadumpPart{}, err
	}
	p.Data = []byte(data)
	return p, nil
}

// StaleDatadumpTickets returns the tickets whose newest part is older than
// the cutoff. Candidates for the cleanup sweep.
func (db *DB) StaleDatadumpTickets(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT ticket FROM datadump
		GROUP BY ticket
		HAVING max(created_at) < ?
		ORDER BY ticket`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale datadump tickets: %w", err)
	}
	defer rows.Close()

	var tickets []string
	for rows.Next() {
		var ticket string
		if err := rows.Scan(&ticket); err != nil {
			return nil, fmt.Errorf("failed to scan datadump ticket: %w", err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

// DeleteDatadump removes every part of an export. Used by cleanup when a
// ticket ages out without the suppress flag set.
func (db *DB) DeleteDatadump(ctx context.Context, ticket string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM datadump WHERE ticket = ?`, ticket); err != nil {
		return fmt.Errorf("failed to delete datadump for ticket %s: %w", ticket, err)
	}
	return nil
}
