package pgstore

import (
	"context"
	"database/sql"

	"github.com/sqlc-dev/pqtype"
)

// Schema creates the rooms table. A NULL doc marks a deleted room whose
// revision is kept so compare-and-swap stays monotonic.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id         TEXT PRIMARY KEY,
    doc        JSONB,
    revision   BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type RoomRow struct {
	ID       string
	Doc      pqtype.NullRawMessage
	Revision int64
}

const getRoom = `SELECT id, doc, revision FROM rooms WHERE id = $1`

func (q *Queries) GetRoom(ctx context.Context, id string) (RoomRow, error) {
	row := q.db.QueryRowContext(ctx, getRoom, id)
	var r RoomRow
	err := row.Scan(&r.ID, &r.Doc, &r.Revision)
	return r, err
}

const insertRoom = `
INSERT INTO rooms (id, doc, revision) VALUES ($1, $2, 1)
ON CONFLICT (id) DO NOTHING
`

// InsertRoom returns the number of rows inserted: 0 when the id is taken.
func (q *Queries) InsertRoom(ctx context.Context, id string, doc pqtype.NullRawMessage) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertRoom, id, doc)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateRoom = `
UPDATE rooms SET doc = $2, revision = revision + 1, updated_at = now()
WHERE id = $1 AND revision = $3
RETURNING revision
`

// UpdateRoom returns sql.ErrNoRows when the revision moved on.
func (q *Queries) UpdateRoom(ctx context.Context, id string, doc pqtype.NullRawMessage, revision int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, updateRoom, id, doc, revision)
	var next int64
	err := row.Scan(&next)
	return next, err
}

const notifyRoom = `SELECT pg_notify($1, $2)`

func (q *Queries) NotifyRoom(ctx context.Context, channel, id string) error {
	_, err := q.db.ExecContext(ctx, notifyRoom, channel, id)
	return err
}
