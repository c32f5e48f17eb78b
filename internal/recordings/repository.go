package recordings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/getrec/recorder/internal/models"
)

// ErrNotFound is returned when no row matches a recording id.
var ErrNotFound = errors.New("recording not found")

// Update is one idempotent write to a recording row. Nil timestamps leave the
// stored value untouched.
type Update struct {
	RecordingID uuid.UUID
	PlayerID    string
	AccountID   string
	State       models.RecordingState
	CreatedAt   *time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
}

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// upsertSQL inserts or merges a row keyed by recording_id. $8 is the lifecycle
// order of states; a stored state is only replaced by one at or after it.
// created_tstamp is written once. start_tstamp and end_tstamp are replaced only
// by an update that moves the state forward, so replays keep stored values.
const upsertSQL = `INSERT INTO recordings (recording_id, player_id, account_id, created_tstamp, start_tstamp, end_tstamp, state)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (recording_id) DO UPDATE SET
		player_id = EXCLUDED.player_id,
		account_id = EXCLUDED.account_id,
		created_tstamp = COALESCE(recordings.created_tstamp, EXCLUDED.created_tstamp),
		start_tstamp = CASE
			WHEN array_position($8::text[], EXCLUDED.state) > array_position($8::text[], recordings.state)
			THEN COALESCE(EXCLUDED.start_tstamp, recordings.start_tstamp)
			ELSE COALESCE(recordings.start_tstamp, EXCLUDED.start_tstamp)
		END,
		end_tstamp = CASE
			WHEN array_position($8::text[], EXCLUDED.state) > array_position($8::text[], recordings.state)
			THEN COALESCE(EXCLUDED.end_tstamp, recordings.end_tstamp)
			ELSE COALESCE(recordings.end_tstamp, EXCLUDED.end_tstamp)
		END,
		state = CASE
			WHEN array_position($8::text[], EXCLUDED.state) >= array_position($8::text[], recordings.state)
			THEN EXCLUDED.state
			ELSE recordings.state
		END`

// Upsert applies u. Repeating an update leaves the row unchanged.
func (r *Repository) Upsert(ctx context.Context, u Update) error {
	_, err := r.pool.Exec(ctx, upsertSQL,
		u.RecordingID, u.PlayerID, u.AccountID,
		u.CreatedAt, u.StartedAt, u.EndedAt,
		string(u.State), stateOrder(),
	)
	if err != nil {
		return fmt.Errorf("upsert recording %s: %w", u.RecordingID, err)
	}
	return nil
}

func stateOrder() []string {
	out := make([]string, len(models.RecordingStates))
	for i, s := range models.RecordingStates {
		out[i] = string(s)
	}
	return out
}

const selectColumns = `recording_id, player_id, account_id, created_tstamp, start_tstamp, end_tstamp, state`

// GetByID returns a recording by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	const q = `SELECT ` + selectColumns + ` FROM recordings WHERE recording_id = $1`
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recording %s: %w", id, err)
	}
	return rec, nil
}

// ListByAccount returns an account's recordings, newest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Recording, error) {
	const q = `SELECT ` + selectColumns + ` FROM recordings WHERE account_id = $1
		ORDER BY created_tstamp DESC NULLS LAST LIMIT $2`
	rows, err := r.pool.Query(ctx, q, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	list := make([]models.Recording, 0)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var (
		rec   models.Recording
		state string
	)
	err := row.Scan(&rec.ID, &rec.PlayerID, &rec.AccountID, &rec.CreatedAt, &rec.StartedAt, &rec.EndedAt, &state)
	if err != nil {
		return nil, err
	}
	rec.State = models.RecordingState(state)
	return &rec, nil
}
