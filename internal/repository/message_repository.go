package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/clinic-chat/internal/domain"
)

// MessageRepository manages chat messages.
type MessageRepository interface {
	// Create assigns ID and CreatedAt and bumps the thread's last activity.
	Create(ctx context.Context, msg *domain.Message) error
	ListByThread(ctx context.Context, threadID string) ([]domain.Message, error)
	// MarkRead flags every message in the thread not sent by reader as read.
	MarkRead(ctx context.Context, threadID string, reader domain.Sender) (int64, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insertMessage = `
            INSERT INTO chat_messages (thread_id, sender_role, sender_id, body)
            VALUES ($1,$2,$3,$4)
            RETURNING id, created_at, read`
		if err := tx.QueryRow(ctx, insertMessage,
			msg.ThreadID,
			msg.Sender.Role,
			msg.Sender.ID,
			msg.Body,
		).Scan(&msg.ID, &msg.CreatedAt, &msg.Read); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		const insertAttachment = `
            INSERT INTO chat_message_attachments (message_id, position, url, filename, type)
            VALUES ($1,$2,$3,$4,$5)`
		for i, att := range msg.Attachments {
			if _, err := tx.Exec(ctx, insertAttachment, msg.ID, i, att.URL, att.Filename, att.Type); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}

		const touchThread = `UPDATE chat_threads SET last_activity_at=$2 WHERE id=$1`
		cmd, err := tx.Exec(ctx, touchThread, msg.ThreadID, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("touch thread: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *messageRepository) ListByThread(ctx context.Context, threadID string) ([]domain.Message, error) {
	const query = `
        SELECT id, thread_id, sender_role, sender_id, body, created_at, read
        FROM chat_messages WHERE thread_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := r.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	index := make(map[string]int)
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.Sender.Role,
			&msg.Sender.ID,
			&msg.Body,
			&msg.CreatedAt,
			&msg.Read,
		); err != nil {
			return nil, err
		}
		index[msg.ID] = len(result)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	const attachments = `
        SELECT a.message_id, a.url, a.filename, a.type
        FROM chat_message_attachments a
        JOIN chat_messages m ON m.id = a.message_id
        WHERE m.thread_id=$1
        ORDER BY a.message_id, a.position`
	attRows, err := r.pool.Query(ctx, attachments, threadID)
	if err != nil {
		return nil, err
	}
	defer attRows.Close()

	for attRows.Next() {
		var messageID string
		var att domain.Attachment
		if err := attRows.Scan(&messageID, &att.URL, &att.Filename, &att.Type); err != nil {
			return nil, err
		}
		if i, ok := index[messageID]; ok {
			result[i].Attachments = append(result[i].Attachments, att)
		}
	}
	return result, attRows.Err()
}

func (r *messageRepository) MarkRead(ctx context.Context, threadID string, reader domain.Sender) (int64, error) {
	const query = `
        UPDATE chat_messages SET read=TRUE
        WHERE thread_id=$1 AND read=FALSE AND NOT (sender_role=$2 AND sender_id=$3)`
	cmd, err := r.pool.Exec(ctx, query, threadID, reader.Role, reader.ID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
