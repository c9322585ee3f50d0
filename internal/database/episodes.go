package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/goccy/go-json"
)

// RecordEpisodeStart journals a new episode and queues its alert_started event atomically
func (d *Database) RecordEpisodeStart(ctx context.Context, episode models.AlertEpisode) error {
	detections, err := json.Marshal(episode.Detections)
	if err != nil {
		return fmt.Errorf("marshal detections: %w", err)
	}

	return d.InTx(ctx, func(ctx context.Context) error {
		if _, err := d.querier(ctx).ExecContext(ctx,
			"INSERT INTO alert_episodes (id, device_id, message, detections, started_at) VALUES ($1, $2, $3, $4, $5)",
			episode.ID,
			episode.DeviceID,
			episode.Message,
			detections,
			episode.StartedAt,
		); err != nil {
			return fmt.Errorf("insert episode: %w", err)
		}

		return d.AddToOutbox(ctx, models.AlertEvent{Type: models.EventAlertStarted, Episode: episode})
	})
}

// RecordEpisodeEnd closes the episode and queues its alert_ended event atomically
func (d *Database) RecordEpisodeEnd(ctx context.Context, episode models.AlertEpisode) error {
	return d.InTx(ctx, func(ctx context.Context) error {
		res, err := d.querier(ctx).ExecContext(ctx,
			"UPDATE alert_episodes SET ended_at = $1, end_reason = $2 WHERE id = $3",
			episode.EndedAt,
			episode.EndReason,
			episode.ID,
		)
		if err != nil {
			return fmt.Errorf("update episode: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("episode %s not found", episode.ID)
		}

		return d.AddToOutbox(ctx, models.AlertEvent{Type: models.EventAlertEnded, Episode: episode})
	})
}

// ListEpisodes returns the newest episodes first
func (d *Database) ListEpisodes(ctx context.Context, limit, offset int) ([]models.AlertEpisode, error) {
	rows, err := d.querier(ctx).QueryContext(ctx, `
		SELECT id, device_id, message, detections, started_at, ended_at, COALESCE(end_reason, '')
		FROM alert_episodes
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	episodes := []models.AlertEpisode{}
	for rows.Next() {
		var (
			e          models.AlertEpisode
			detections []byte
			endedAt    sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Message, &detections, &e.StartedAt, &endedAt, &e.EndReason); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(detections, &e.Detections); err != nil {
			return nil, fmt.Errorf("episode %s detections: %w", e.ID, err)
		}
		if endedAt.Valid {
			e.EndedAt = &endedAt.Time
		}
		episodes = append(episodes, e)
	}

	return episodes, rows.Err()
}
