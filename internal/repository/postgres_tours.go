package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/tourbooking-system/internal/model"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const tourColumns = `id, title, destination, start_date, end_date, quantity, min_guests, current_guests,
	price_adult, price_child, status, confirmed_at, departed_at, finished_at, created_at, updated_at`

func scanTour(row pgx.Row) (*model.Tour, error) {
	var (
		t      model.Tour
		status string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Destination, &t.StartDate, &t.EndDate, &t.Quantity, &t.MinGuests, &t.CurrentGuests,
		&t.PriceAdult, &t.PriceChild, &status, &t.ConfirmedAt, &t.DepartedAt, &t.FinishedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTourNotFound
		}
		return nil, err
	}
	t.Status = model.TourStatus(status)
	return &t, nil
}

func getTour(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*model.Tour, error) {
	query := `SELECT ` + tourColumns + ` FROM tours WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	t, err := scanTour(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrTourNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get tour: %w", err)
	}
	return t, nil
}

// GetTour возвращает тур по идентификатору.
func (r *PostgresRepository) GetTour(ctx context.Context, id uuid.UUID) (*model.Tour, error) {
	return getTour(ctx, r.pool, id, false)
}

// CreateTour сохраняет новый тур. Используется командой заполнения тестовыми данными.
func (r *PostgresRepository) CreateTour(ctx context.Context, t *model.Tour) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = model.TourStatusPending
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO tours (id, title, destination, start_date, end_date, quantity, min_guests, current_guests,
		                    price_adult, price_child, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		t.ID, t.Title, t.Destination, t.StartDate, t.EndDate, t.Quantity, t.MinGuests, t.CurrentGuests,
		t.PriceAdult, t.PriceChild, string(t.Status),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create tour: %w", err)
	}
	return nil
}

// ListTourEvents возвращает хронологию тура в порядке добавления.
func (r *PostgresRepository) ListTourEvents(ctx context.Context, tourID uuid.UUID) ([]model.TourEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tour_id, type, note, at, COALESCE(created_by, '00000000-0000-0000-0000-000000000000'::uuid)
		 FROM tour_events
		 WHERE tour_id = $1
		 ORDER BY at, id`,
		tourID,
	)
	if err != nil {
		return nil, fmt.Errorf("select tour events: %w", err)
	}
	defer rows.Close()

	var res []model.TourEvent
	for rows.Next() {
		var (
			e  model.TourEvent
			et string
		)
		if err := rows.Scan(&e.ID, &e.TourID, &et, &e.Note, &e.At, &e.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan tour event: %w", err)
		}
		e.Type = model.TourEventType(et)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (t *pgTx) LockTour(ctx context.Context, id uuid.UUID) (*model.Tour, error) {
	return getTour(ctx, t.tx, id, true)
}

func (t *pgTx) IncrementGuests(ctx context.Context, tourID uuid.UUID, n int) (*model.Tour, error) {
	tour, err := scanTour(t.tx.QueryRow(ctx,
		`UPDATE tours
		 SET current_guests = current_guests + $2, updated_at = now()
		 WHERE id = $1 AND (quantity IS NULL OR current_guests + $2 <= quantity)
		 RETURNING `+tourColumns,
		tourID, n,
	))
	if err == nil {
		return tour, nil
	}
	if !errors.Is(err, ErrTourNotFound) {
		return nil, fmt.Errorf("increment guests: %w", err)
	}

	// Условие не выполнилось: либо тура нет, либо не хватает мест.
	current, err := getTour(ctx, t.tx, tourID, false)
	if err != nil {
		return nil, err
	}
	return current, ErrCapacityExceeded
}

func (t *pgTx) ConfirmTourIfReached(ctx context.Context, tourID uuid.UUID, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE tours
		 SET status = 'confirmed', confirmed_at = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending' AND current_guests >= min_guests`,
		tourID, at,
	)
	if err != nil {
		return false, fmt.Errorf("confirm tour: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpdateTourStatus(ctx context.Context, tourID uuid.UUID, status model.TourStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE tours
		 SET status = $2::text,
		     confirmed_at = CASE WHEN $2::text = 'confirmed' THEN $3 ELSE confirmed_at END,
		     departed_at  = CASE WHEN $2::text = 'in_progress' THEN $3 ELSE departed_at END,
		     finished_at  = CASE WHEN $2::text = 'completed' THEN $3 ELSE finished_at END,
		     updated_at = now()
		 WHERE id = $1`,
		tourID, string(status), at,
	)
	if err != nil {
		return fmt.Errorf("update tour status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTourNotFound
	}
	return nil
}

func (t *pgTx) InsertTourEvent(ctx context.Context, e *model.TourEvent) error {
	var createdBy *uuid.UUID
	if e.CreatedBy != uuid.Nil {
		createdBy = &e.CreatedBy
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO tour_events (tour_id, type, note, at, created_by)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		e.TourID, string(e.Type), e.Note, e.At, createdBy,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert tour event: %w", err)
	}
	return nil
}
