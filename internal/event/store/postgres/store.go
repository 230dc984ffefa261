// Package postgres persists events, claims and the issuance journal with lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"eventlens/internal/attestation/geofence"
	"eventlens/internal/event/models"
	"eventlens/internal/event/store"
	"eventlens/pkg/platform/sentinel"
	txcontext "eventlens/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore serializes reservations and records per event with
// SELECT ... FOR UPDATE on the events row.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) q(ctx context.Context) txcontext.Querier {
	return txcontext.Pick(ctx, s.db)
}

// RunInTx joins an outer transaction when ctx already carries one.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

const eventColumns = `id, name, description, location, date_start, date_end, venue_lat, venue_lon,
	venue_images, asset_id, issuance_cap, issued_count, active_from, active_until, created_by, created_at`

func (s *PostgresStore) Create(ctx context.Context, e *models.Event) error {
	images, err := json.Marshal(nonNil(e.VenueImages))
	if err != nil {
		return fmt.Errorf("marshal venue images: %w", err)
	}
	var lat, lon sql.NullFloat64
	if e.Venue != nil {
		lat = sql.NullFloat64{Float64: e.Venue.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: e.Venue.Lon, Valid: true}
	}
	_, err = s.q(ctx).ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.Name, e.Description, e.Location, e.DateStart, e.DateEnd, lat, lon,
		images, int64(e.AssetID), e.IssuanceCap, e.IssuedCount, e.ActiveFrom, e.ActiveUntil, e.CreatedBy, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.Event, error) {
	var (
		e          models.Event
		lat, lon   sql.NullFloat64
		images     []byte
		assetID    int64
		from, till sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Location, &e.DateStart, &e.DateEnd, &lat, &lon,
		&images, &assetID, &e.IssuanceCap, &e.IssuedCount, &from, &till, &e.CreatedBy, &e.CreatedAt); err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		e.Venue = &geofence.Coordinate{Lat: lat.Float64, Lon: lon.Float64}
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &e.VenueImages); err != nil {
			return nil, fmt.Errorf("unmarshal venue images: %w", err)
		}
	}
	e.AssetID = uint64(assetID)
	if from.Valid {
		t := from.Time
		e.ActiveFrom = &t
	}
	if till.Valid {
		t := till.Time
		e.ActiveUntil = &t
	}
	return &e, nil
}

func (s *PostgresStore) Get(ctx context.Context, eventID string) (*models.Event, error) {
	e, err := scanEvent(s.q(ctx).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Event, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	out := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IncrementIssued(ctx context.Context, eventID string) error {
	return s.increment(ctx, s.q(ctx), eventID)
}

func (s *PostgresStore) increment(ctx context.Context, q txcontext.Querier, eventID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE events SET issued_count = issued_count + 1 WHERE id = $1 AND issued_count < issuance_cap`, eventID)
	if err != nil {
		return fmt.Errorf("increment issued: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment issued: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
		return fmt.Errorf("check event: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

const claimColumns = `event_id, identity, fingerprint, score, transfer_tx_id, freeze_tx_id, proof_tx_id, display_name, issued_at`

func scanClaim(row scanner) (*models.ClaimRecord, error) {
	var c models.ClaimRecord
	if err := row.Scan(&c.EventID, &c.Identity, &c.Fingerprint, &c.Score, &c.TransferTxID, &c.FreezeTxID,
		&c.ProofTxID, &c.DisplayName, &c.IssuedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, eventID, identity string) (*models.ClaimRecord, error) {
	c, err := scanClaim(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE event_id = $1 AND identity = $2`, eventID, identity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) PutClaim(ctx context.Context, rec *models.ClaimRecord) error {
	return s.putClaim(ctx, s.q(ctx), rec)
}

func (s *PostgresStore) putClaim(ctx context.Context, q txcontext.Querier, rec *models.ClaimRecord) error {
	_, err := q.ExecContext(ctx, `INSERT INTO claims (`+claimColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.EventID, rec.Identity, rec.Fingerprint, rec.Score, rec.TransferTxID, rec.FreezeTxID,
		rec.ProofTxID, rec.DisplayName, rec.IssuedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListClaimsByIdentity(ctx context.Context, identity string) ([]*models.ClaimRecord, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE identity = $1 ORDER BY issued_at DESC`, identity)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()
	out := []*models.ClaimRecord{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := s.q(ctx).QueryRowContext(ctx, `SELECT
			(SELECT count(*) FROM events),
			(SELECT coalesce(sum(issued_count), 0) FROM events),
			(SELECT coalesce(sum(issuance_cap), 0) FROM events),
			(SELECT count(DISTINCT identity) FROM claims)`).
		Scan(&st.TotalEvents, &st.TotalBadgesMinted, &st.TotalBadgesAvailable, &st.UniqueAttendees)
	if err != nil {
		return models.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ReserveIssuance(ctx context.Context, iss *models.Issuance) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		var capacity, issued int
		err := q.QueryRowContext(ctx,
			`SELECT issuance_cap, issued_count FROM events WHERE id = $1 FOR UPDATE`, iss.EventID).
			Scan(&capacity, &issued)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock event: %w", err)
		}

		var claimed, pending bool
		var open int
		err = q.QueryRowContext(ctx, `SELECT
				EXISTS (SELECT 1 FROM claims WHERE event_id = $1 AND identity = $2),
				EXISTS (SELECT 1 FROM issuances WHERE event_id = $1 AND identity = $2),
				(SELECT count(*) FROM issuances WHERE event_id = $1)`, iss.EventID, iss.Identity).
			Scan(&claimed, &pending, &open)
		if err != nil {
			return fmt.Errorf("check reservation: %w", err)
		}
		switch {
		case claimed:
			return sentinel.ErrAlreadyUsed
		case pending:
			return sentinel.ErrConflict
		case issued+open >= capacity:
			return store.ErrCapacityReached
		}

		_, err = q.ExecContext(ctx, `INSERT INTO issuances (event_id, identity, fingerprint, score, display_name,
				idempotency_key, state, transfer_tx_id, freeze_tx_id, freeze_attempts, last_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			iss.EventID, iss.Identity, iss.Fingerprint, iss.Score, iss.DisplayName, iss.IdempotencyKey,
			string(iss.State), iss.TransferTxID, iss.FreezeTxID, iss.FreezeAttempts, iss.LastError,
			iss.CreatedAt, iss.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert issuance: %w", err)
		}
		return nil
	})
}

const issuanceColumns = `event_id, identity, fingerprint, score, display_name, idempotency_key, state,
	transfer_tx_id, freeze_tx_id, freeze_attempts, last_error, created_at, updated_at`

func scanIssuance(row scanner) (*models.Issuance, error) {
	var (
		iss   models.Issuance
		state string
	)
	if err := row.Scan(&iss.EventID, &iss.Identity, &iss.Fingerprint, &iss.Score, &iss.DisplayName,
		&iss.IdempotencyKey, &state, &iss.TransferTxID, &iss.FreezeTxID, &iss.FreezeAttempts, &iss.LastError,
		&iss.CreatedAt, &iss.UpdatedAt); err != nil {
		return nil, err
	}
	iss.State = models.IssuanceState(state)
	return &iss, nil
}

func (s *PostgresStore) GetIssuance(ctx context.Context, eventID, identity string) (*models.Issuance, error) {
	iss, err := scanIssuance(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+issuanceColumns+` FROM issuances WHERE event_id = $1 AND identity = $2`, eventID, identity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get issuance: %w", err)
	}
	return iss, nil
}

func (s *PostgresStore) UpdateIssuance(ctx context.Context, iss *models.Issuance) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE issuances SET state = $3, transfer_tx_id = $4, freeze_tx_id = $5,
			freeze_attempts = $6, last_error = $7, updated_at = $8
		WHERE event_id = $1 AND identity = $2`,
		iss.EventID, iss.Identity, string(iss.State), iss.TransferTxID, iss.FreezeTxID, iss.FreezeAttempts,
		iss.LastError, iss.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update issuance: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) ReleaseIssuance(ctx context.Context, eventID, identity string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM issuances WHERE event_id = $1 AND identity = $2`, eventID, identity)
	if err != nil {
		return fmt.Errorf("release issuance: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) ListUnresolvedIssuances(ctx context.Context, olderThan time.Time, limit int) ([]*models.Issuance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+issuanceColumns+` FROM issuances
		WHERE updated_at < $1 ORDER BY updated_at LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list issuances: %w", err)
	}
	defer rows.Close()
	out := []*models.Issuance{}
	for rows.Next() {
		iss, err := scanIssuance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issuance: %w", err)
		}
		out = append(out, iss)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordClaim(ctx context.Context, rec *models.ClaimRecord) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		if err := s.putClaim(ctx, q, rec); err != nil {
			return err
		}
		if err := s.increment(ctx, q, rec.EventID); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM issuances WHERE event_id = $1 AND identity = $2`,
			rec.EventID, rec.Identity); err != nil {
			return fmt.Errorf("close issuance: %w", err)
		}
		return nil
	})
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
