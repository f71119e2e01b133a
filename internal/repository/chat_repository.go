package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/clinic-chat/internal/domain"
)

// ErrNotFound is returned when a thread does not exist.
var ErrNotFound = errors.New("not found")

// ChatRepository manages chat threads.
type ChatRepository interface {
	// GetOrCreate returns the thread for the triple, creating it on first use.
	// created is true only for the call that inserted the row.
	GetOrCreate(ctx context.Context, key domain.ThreadKey) (thread *domain.ChatThread, created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.ChatThread, error)
	ListForParticipant(ctx context.Context, participant domain.Sender, limit, offset int) ([]domain.ChatThread, error)
}

type chatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository returns a Postgres-backed implementation.
func NewChatRepository(pool *pgxpool.Pool) ChatRepository {
	return &chatRepository{pool: pool}
}

func (r *chatRepository) GetOrCreate(ctx context.Context, key domain.ThreadKey) (*domain.ChatThread, bool, error) {
	// The no-op update makes RETURNING yield the existing row on conflict;
	// xmax = 0 only for the row version this statement inserted.
	const query = `
        INSERT INTO chat_threads (patient_id, doctor_id, clinic_id)
        VALUES ($1, $2, $3)
        ON CONFLICT (patient_id, doctor_id, clinic_id)
        DO UPDATE SET patient_id = EXCLUDED.patient_id
        RETURNING id, patient_id, doctor_id, clinic_id, created_at, last_activity_at, (xmax = 0) AS inserted`

	var thread domain.ChatThread
	var created bool
	if err := r.pool.QueryRow(ctx, query, key.PatientID, key.DoctorID, key.ClinicID).Scan(
		&thread.ID,
		&thread.PatientID,
		&thread.DoctorID,
		&thread.ClinicID,
		&thread.CreatedAt,
		&thread.LastActivityAt,
		&created,
	); err != nil {
		return nil, false, err
	}
	thread.FillParticipants()
	return &thread, created, nil
}

func (r *chatRepository) GetByID(ctx context.Context, id string) (*domain.ChatThread, error) {
	const query = `
        SELECT id, patient_id, doctor_id, clinic_id, created_at, last_activity_at
        FROM chat_threads WHERE id=$1`

	var thread domain.ChatThread
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&thread.ID,
		&thread.PatientID,
		&thread.DoctorID,
		&thread.ClinicID,
		&thread.CreatedAt,
		&thread.LastActivityAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	thread.FillParticipants()
	return &thread, nil
}

func (r *chatRepository) ListForParticipant(ctx context.Context, participant domain.Sender, limit, offset int) ([]domain.ChatThread, error) {
	column := "clinic_id"
	if participant.Role == domain.RoleDoctor {
		column = "doctor_id"
	}
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT id, patient_id, doctor_id, clinic_id, created_at, last_activity_at
        FROM chat_threads WHERE ` + column + `=$1
        ORDER BY last_activity_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, participant.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatThread
	for rows.Next() {
		var thread domain.ChatThread
		if err := rows.Scan(
			&thread.ID,
			&thread.PatientID,
			&thread.DoctorID,
			&thread.ClinicID,
			&thread.CreatedAt,
			&thread.LastActivityAt,
		); err != nil {
			return nil, err
		}
		thread.FillParticipants()
		result = append(result, thread)
	}
	return result, rows.Err()
}
