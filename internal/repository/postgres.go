package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OmishaPatel/pasera/internal/model"
)

const eventColumns = `id, organizer_id, title, description, category, event_date,
	start_time, end_time, location_name, location_address, difficulty,
	max_capacity, current_capacity, status, created_at, updated_at`

const attendeeColumns = `id, event_id, user_id, status, responded_at,
	waitlist_position, waitlist_notified_at, waitlist_expires_at, created_at`

// Postgres implements Store on a pgxpool connection pool.
//
// Every capacity-affecting transition runs inside a single transaction
// that first takes a row-level lock on the event with SELECT ... FOR
// UPDATE. Two concurrent claims racing for one freed slot are therefore
// serialized by the database: the second one observes the already
// incremented counter and fails its capacity check.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

// mapPgError converts retryable SQLSTATEs (serialization failure,
// deadlock) into ErrStoreConflict so the coordinator can retry once.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", ErrStoreConflict, pgErr.Message)
		}
	}
	return err
}

type eventRow interface {
	Scan(dest ...any) error
}

func scanEvent(row eventRow) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.OrganizerID, &e.Title, &e.Description, &e.Category,
		&e.EventDate, &e.StartTime, &e.EndTime, &e.LocationName,
		&e.LocationAddress, &e.Difficulty, &e.MaxCapacity,
		&e.CurrentCapacity, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanAttendee(row eventRow) (*model.AttendanceRecord, error) {
	var r model.AttendanceRecord
	err := row.Scan(
		&r.ID, &r.EventID, &r.UserID, &r.Status, &r.RespondedAt,
		&r.WaitlistPosition, &r.WaitlistNotifiedAt, &r.WaitlistExpiresAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateEvent inserts a new event.
func (s *Postgres) CreateEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		ev.ID, ev.OrganizerID, ev.Title, ev.Description, ev.Category,
		ev.EventDate, ev.StartTime, ev.EndTime, ev.LocationName,
		ev.LocationAddress, ev.Difficulty, ev.MaxCapacity,
		ev.CurrentCapacity, ev.Status, ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", mapPgError(err))
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *Postgres) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// ListEvents returns all events ordered by event date ascending.
func (s *Postgres) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY event_date ASC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// GetAttendance returns the (event, user) record or ErrNoRecordFound.
func (s *Postgres) GetAttendance(ctx context.Context, eventID, userID string) (*model.AttendanceRecord, error) {
	rec, err := scanAttendee(s.pool.QueryRow(ctx,
		`SELECT `+attendeeColumns+` FROM event_attendees
		 WHERE event_id = $1 AND user_id = $2`, eventID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRecordFound
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return rec, nil
}

// ListAttendees returns all records for an event, confirmed first, then
// by waitlist position.
func (s *Postgres) ListAttendees(ctx context.Context, eventID string) ([]model.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attendeeColumns+` FROM event_attendees
		 WHERE event_id = $1
		 ORDER BY status = 'waitlist', waitlist_position ASC NULLS FIRST, responded_at ASC`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()

	var recs []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// CountAttendees aggregates records by status for one event.
func (s *Postgres) CountAttendees(ctx context.Context, eventID string) (model.AttendeeCounts, error) {
	var counts model.AttendeeCounts
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM event_attendees WHERE event_id = $1 GROUP BY status`,
		eventID)
	if err != nil {
		return counts, fmt.Errorf("count attendees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan count: %w", err)
		}
		switch status {
		case model.StatusGoing:
			counts.Going = n
		case model.StatusMaybe:
			counts.Maybe = n
		case model.StatusInterested:
			counts.Interested = n
		case model.StatusWaitlist:
			counts.Waitlist = n
		}
	}
	return counts, rows.Err()
}

// GetProfile returns a profile or ErrNotFound.
func (s *Postgres) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, full_name, expo_push_token, created_at
		 FROM profiles WHERE id = $1`, userID,
	).Scan(&p.ID, &p.Email, &p.FullName, &p.ExpoPushToken, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile inserts or updates a profile keyed on id.
func (s *Postgres) UpsertProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, email, full_name, expo_push_token, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET email = EXCLUDED.email,
		     full_name = EXCLUDED.full_name,
		     expo_push_token = EXCLUDED.expo_push_token`,
		p.ID, p.Email, p.FullName, p.ExpoPushToken, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", mapPgError(err))
	}
	return nil
}

// LapsedClaimEventIDs returns events holding at least one expired claim window.
func (s *Postgres) LapsedClaimEventIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT event_id FROM event_attendees
		 WHERE status = 'waitlist' AND waitlist_expires_at < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("lapsed claim events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateEvent locks the event row and runs fn inside one transaction.
func (s *Postgres) UpdateEvent(ctx context.Context, eventID string, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Exclusive row-level lock: any concurrent transition on the same
	// event blocks here until this transaction commits or rolls back.
	var ev *model.Event
	ev, err = scanEvent(tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrNotFound
			return err
		}
		err = fmt.Errorf("lock event row: %w", mapPgError(err))
		return err
	}

	if err = fn(&pgTx{tx: tx, ev: ev}); err != nil {
		return mapPgError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapPgError(err))
	}
	return nil
}

// pgTx implements Tx on an open pgx transaction holding the event lock.
type pgTx struct {
	tx pgx.Tx
	ev *model.Event
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) Event() *model.Event { return t.ev }

func (t *pgTx) SetStatus(ctx context.Context, status string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE events SET status = $2, updated_at = now() WHERE id = $1`,
		t.ev.ID, status)
	if err != nil {
		return fmt.Errorf("set event status: %w", err)
	}
	t.ev.Status = status
	return nil
}

func (t *pgTx) SetMaxCapacity(ctx context.Context, max int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE events
		 SET max_capacity = $2,
		     status = CASE
		         WHEN status IN ('cancelled', 'completed') THEN status
		         WHEN current_capacity >= $2 THEN 'full'
		         ELSE 'active'
		     END,
		     updated_at = now()
		 WHERE id = $1`,
		t.ev.ID, max)
	if err != nil {
		return fmt.Errorf("set max capacity: %w", err)
	}
	t.ev.MaxCapacity = max
	t.refreshDerivedStatus()
	return nil
}

func (t *pgTx) AdjustCapacity(ctx context.Context, delta int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE events
		 SET current_capacity = current_capacity + $2,
		     status = CASE
		         WHEN status IN ('cancelled', 'completed') THEN status
		         WHEN current_capacity + $2 >= max_capacity THEN 'full'
		         ELSE 'active'
		     END,
		     updated_at = now()
		 WHERE id = $1`,
		t.ev.ID, delta)
	if err != nil {
		return fmt.Errorf("adjust capacity: %w", err)
	}
	t.ev.CurrentCapacity += delta
	t.refreshDerivedStatus()
	return nil
}

// refreshDerivedStatus keeps the in-memory snapshot consistent with the
// active/full derivation applied by the SQL above.
func (t *pgTx) refreshDerivedStatus() {
	if t.ev.Status == model.EventStatusCancelled || t.ev.Status == model.EventStatusCompleted {
		return
	}
	if t.ev.IsFull() {
		t.ev.Status = model.EventStatusFull
	} else {
		t.ev.Status = model.EventStatusActive
	}
}

func (t *pgTx) Record(ctx context.Context, userID string) (*model.AttendanceRecord, error) {
	rec, err := scanAttendee(t.tx.QueryRow(ctx,
		`SELECT `+attendeeColumns+` FROM event_attendees
		 WHERE event_id = $1 AND user_id = $2`, t.ev.ID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRecordFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (t *pgTx) UpsertRecord(ctx context.Context, rec *model.AttendanceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.RespondedAt
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO event_attendees (`+attendeeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (event_id, user_id) DO UPDATE
		 SET status = EXCLUDED.status,
		     responded_at = EXCLUDED.responded_at,
		     waitlist_position = EXCLUDED.waitlist_position,
		     waitlist_notified_at = EXCLUDED.waitlist_notified_at,
		     waitlist_expires_at = EXCLUDED.waitlist_expires_at`,
		rec.ID, t.ev.ID, rec.UserID, rec.Status, rec.RespondedAt,
		rec.WaitlistPosition, rec.WaitlistNotifiedAt, rec.WaitlistExpiresAt,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteRecord(ctx context.Context, userID string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM event_attendees WHERE event_id = $1 AND user_id = $2`,
		t.ev.ID, userID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (t *pgTx) MaxWaitlistPosition(ctx context.Context) (int, error) {
	var max int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(waitlist_position), 0) FROM event_attendees
		 WHERE event_id = $1 AND status = 'waitlist'`, t.ev.ID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max waitlist position: %w", err)
	}
	return max, nil
}

func (t *pgTx) NextUnnotified(ctx context.Context) (*model.AttendanceRecord, error) {
	rec, err := scanAttendee(t.tx.QueryRow(ctx,
		`SELECT `+attendeeColumns+` FROM event_attendees
		 WHERE event_id = $1 AND status = 'waitlist' AND waitlist_notified_at IS NULL
		 ORDER BY waitlist_position ASC
		 LIMIT 1`, t.ev.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRecordFound
		}
		return nil, fmt.Errorf("next unnotified: %w", err)
	}
	return rec, nil
}

func (t *pgTx) ClearLapsedClaims(ctx context.Context, now time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE event_attendees
		 SET waitlist_notified_at = NULL, waitlist_expires_at = NULL
		 WHERE event_id = $1 AND status = 'waitlist' AND waitlist_expires_at < $2`,
		t.ev.ID, now)
	if err != nil {
		return 0, fmt.Errorf("clear lapsed claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) CountLiveClaims(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_attendees
		 WHERE event_id = $1 AND status = 'waitlist' AND waitlist_notified_at IS NOT NULL`,
		t.ev.ID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count live claims: %w", err)
	}
	return n, nil
}

func (t *pgTx) MarkNotified(ctx context.Context, userID string, notifiedAt, expiresAt time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE event_attendees
		 SET waitlist_notified_at = $3, waitlist_expires_at = $4
		 WHERE event_id = $1 AND user_id = $2`,
		t.ev.ID, userID, notifiedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}
