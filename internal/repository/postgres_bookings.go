package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/tourbooking-system/internal/model"
)

const bookingColumns = `id, code, tour_id, user_id, full_name, email, phone_number, address, note,
	num_adults, num_children, total_price, deposit_rate, deposit_amount, paid_amount, deposit_paid,
	require_full_payment, status, payment_method, capacity_conflict, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b      model.Booking
		status string
		method string
	)
	err := row.Scan(
		&b.ID, &b.Code, &b.TourID, &b.UserID, &b.FullName, &b.Email, &b.PhoneNumber, &b.Address, &b.Note,
		&b.NumAdults, &b.NumChildren, &b.TotalPrice, &b.DepositRate, &b.DepositAmount, &b.PaidAmount, &b.DepositPaid,
		&b.RequireFullPayment, &status, &method, &b.CapacityConflict, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.PaymentMethod = model.PaymentMethod(method)
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()

	var res []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func loadPaymentRefs(ctx context.Context, q querier, bookingID uuid.UUID) ([]model.PaymentRef, error) {
	rows, err := q.Query(ctx,
		`SELECT provider, ref, amount, note, at
		 FROM payment_refs
		 WHERE booking_id = $1
		 ORDER BY at, id`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payment refs: %w", err)
	}
	defer rows.Close()

	var refs []model.PaymentRef
	for rows.Next() {
		var p model.PaymentRef
		if err := rows.Scan(&p.Provider, &p.Ref, &p.Amount, &p.Note, &p.At); err != nil {
			return nil, fmt.Errorf("scan payment ref: %w", err)
		}
		refs = append(refs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return refs, nil
}

func getBooking(ctx context.Context, q querier, where string, arg any, forUpdate bool) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + where + ` = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	b, err := scanBooking(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}

	b.PaymentRefs, err = loadPaymentRefs(ctx, q, b.ID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBookingByCode возвращает бронирование с журналом платежей по коду.
func (r *PostgresRepository) GetBookingByCode(ctx context.Context, code string) (*model.Booking, error) {
	return getBooking(ctx, r.pool, "code", code, false)
}

// GetBookingByID возвращает бронирование с журналом платежей по идентификатору.
func (r *PostgresRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return getBooking(ctx, r.pool, "id", id, false)
}

// ListBookingsByUser возвращает страницу бронирований пользователя и их общее число.
func (r *PostgresRepository) ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Booking, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select bookings: %w", err)
	}

	res, err := collectBookings(rows)
	if err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

// ListBookings возвращает страницу бронирований по фильтру администратора и их общее число.
func (r *PostgresRepository) ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, int, error) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Status != nil {
		conds = append(conds, "status = "+next(string(*f.Status)))
	}
	if f.TourID != nil {
		conds = append(conds, "tour_id = "+next(*f.TourID))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := next("%" + s + "%")
		conds = append(conds, "(code ILIKE "+p+" OR full_name ILIKE "+p+" OR email ILIKE "+p+" OR phone_number ILIKE "+p+")")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings` + where +
		` ORDER BY created_at DESC LIMIT ` + next(f.Limit) + ` OFFSET ` + next(f.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select bookings: %w", err)
	}

	res, err := collectBookings(rows)
	if err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

// ListCapacityConflicts возвращает бронирования, оплаченные после того, как места закончились.
func (r *PostgresRepository) ListCapacityConflicts(ctx context.Context) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE capacity_conflict ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select capacity conflicts: %w", err)
	}
	return collectBookings(rows)
}

// ListDepositedBookings возвращает неотменённые бронирования тура с внесённым депозитом,
// которые заняли места. Бронирования с capacity_conflict не возвращаются.
func (r *PostgresRepository) ListDepositedBookings(ctx context.Context, tourID uuid.UUID) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE tour_id = $1 AND deposit_paid AND NOT capacity_conflict AND status <> 'canceled'
		 ORDER BY created_at`,
		tourID,
	)
	if err != nil {
		return nil, fmt.Errorf("select deposited bookings: %w", err)
	}
	return collectBookings(rows)
}

// DeleteBooking удаляет бронирование вместе с журналом платежей.
func (r *PostgresRepository) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// PaymentStats агрегирует оплаты неотменённых бронирований по способам оплаты.
func (r *PostgresRepository) PaymentStats(ctx context.Context) (*model.PaymentStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT payment_method,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE deposit_paid),
		        COALESCE(SUM(paid_amount), 0),
		        COALESCE(SUM(total_price), 0)
		 FROM bookings
		 WHERE status <> 'canceled'
		 GROUP BY payment_method
		 ORDER BY payment_method`,
	)
	if err != nil {
		return nil, fmt.Errorf("select payment stats: %w", err)
	}
	defer rows.Close()

	stats := &model.PaymentStats{}
	for rows.Next() {
		var (
			m      model.PaymentMethodStats
			method string
		)
		if err := rows.Scan(&method, &m.Bookings, &m.DepositPaid, &m.PaidAmount, &m.TotalAmount); err != nil {
			return nil, fmt.Errorf("scan payment stats: %w", err)
		}
		m.Method = model.PaymentMethod(method)
		stats.ByMethod = append(stats.ByMethod, m)
		stats.TotalBookings += m.Bookings
		stats.TotalPaid += m.PaidAmount
		stats.TotalValue += m.TotalAmount
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return stats, nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	rows, err := t.tx.Query(ctx,
		`INSERT INTO bookings (id, code, tour_id, user_id, full_name, email, phone_number, address, note,
		                       num_adults, num_children, total_price, deposit_rate, deposit_amount, paid_amount,
		                       deposit_paid, require_full_payment, status, payment_method)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (code) DO NOTHING
		 RETURNING created_at, updated_at`,
		b.ID, b.Code, b.TourID, b.UserID, b.FullName, b.Email, b.PhoneNumber, b.Address, b.Note,
		b.NumAdults, b.NumChildren, b.TotalPrice, b.DepositRate, b.DepositAmount, b.PaidAmount,
		b.DepositPaid, b.RequireFullPayment, string(b.Status), string(b.PaymentMethod),
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			if isUniqueViolation(err, "") {
				return ErrDuplicateBookingCode
			}
			return fmt.Errorf("insert booking: %w", err)
		}
		return ErrDuplicateBookingCode
	}

	if err := rows.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return fmt.Errorf("scan booking timestamps: %w", err)
	}
	return nil
}

func (t *pgTx) LockBookingByCode(ctx context.Context, code string) (*model.Booking, error) {
	return getBooking(ctx, t.tx, "code", code, true)
}

func (t *pgTx) LockBookingByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return getBooking(ctx, t.tx, "id", id, true)
}

func (t *pgTx) AppendPaymentRef(ctx context.Context, bookingID uuid.UUID, ref model.PaymentRef) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO payment_refs (booking_id, provider, ref, amount, note, at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT ON CONSTRAINT payment_refs_idempotency DO NOTHING`,
		bookingID, ref.Provider, ref.Ref, ref.Amount, ref.Note, ref.At,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment ref: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpdateBookingPayment(ctx context.Context, b *model.Booking) error {
	err := t.tx.QueryRow(ctx,
		`UPDATE bookings
		 SET paid_amount = $2, deposit_paid = $3, status = $4, capacity_conflict = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		b.ID, b.PaidAmount, b.DepositPaid, string(b.Status), b.CapacityConflict,
	).Scan(&b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBookingNotFound
		}
		return fmt.Errorf("update booking payment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBookingStatus(ctx context.Context, id uuid.UUID, status model.BookingStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}
