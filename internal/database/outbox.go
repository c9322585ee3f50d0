package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AddToOutbox queues an event, inside the caller's transaction if ctx carries one
func (d *Database) AddToOutbox(ctx context.Context, event models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := d.querier(ctx).ExecContext(ctx,
		"INSERT INTO outbox (id, episode_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5)",
		uuid.New().String(),
		event.Episode.ID,
		event.Type,
		payload,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// GetPendingOutboxMessages returns unprocessed messages, oldest first
func (d *Database) GetPendingOutboxMessages(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	rows, err := d.querier(ctx).QueryContext(ctx, `
		SELECT id, episode_id, event_type, payload, created_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		if err := rows.Scan(&m.ID, &m.EpisodeID, &m.EventType, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (d *Database) MarkOutboxMessageAsProcessed(ctx context.Context, id string) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"UPDATE outbox SET processed_at = $1 WHERE id = $2",
		time.Now().UTC(),
		id,
	)
	return err
}
