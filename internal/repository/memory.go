package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/tourbooking-system/internal/model"
)

type memState struct {
	tours       map[uuid.UUID]model.Tour
	bookings    map[uuid.UUID]model.Booking
	codes       map[string]uuid.UUID
	events      []model.TourEvent
	nextEventID int64
}

func newMemState() *memState {
	return &memState{
		tours:    make(map[uuid.UUID]model.Tour),
		bookings: make(map[uuid.UUID]model.Booking),
		codes:    make(map[string]uuid.UUID),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		tours:       make(map[uuid.UUID]model.Tour, len(s.tours)),
		bookings:    make(map[uuid.UUID]model.Booking, len(s.bookings)),
		codes:       make(map[string]uuid.UUID, len(s.codes)),
		events:      append([]model.TourEvent(nil), s.events...),
		nextEventID: s.nextEventID,
	}
	for k, v := range s.tours {
		c.tours[k] = v
	}
	for k, v := range s.bookings {
		v.PaymentRefs = append([]model.PaymentRef(nil), v.PaymentRefs...)
		c.bookings[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	return c
}

// MemoryRepository хранит данные в памяти процесса. Транзакции выполняются строго
// последовательно над копией состояния и применяются только при успешном завершении.
// Используется в тестах и при локальном запуске без DATABASE_URI.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemState()}
}

// WithinTx выполняет fn над копией состояния и фиксирует её, если fn не вернула ошибку.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error { return nil }

// CreateTour сохраняет новый тур.
func (r *MemoryRepository) CreateTour(_ context.Context, t *model.Tour) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = model.TourStatusPending
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	r.state.tours[t.ID] = *t
	return nil
}

// GetTour возвращает тур по идентификатору.
func (r *MemoryRepository) GetTour(_ context.Context, id uuid.UUID) (*model.Tour, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.state.tours[id]
	if !ok {
		return nil, ErrTourNotFound
	}
	return &t, nil
}

// ListTourEvents возвращает хронологию тура.
func (r *MemoryRepository) ListTourEvents(_ context.Context, tourID uuid.UUID) ([]model.TourEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.TourEvent
	for _, e := range r.state.events {
		if e.TourID == tourID {
			res = append(res, e)
		}
	}
	return res, nil
}

func (r *MemoryRepository) getBooking(id uuid.UUID) (*model.Booking, error) {
	b, ok := r.state.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	b.PaymentRefs = append([]model.PaymentRef(nil), b.PaymentRefs...)
	return &b, nil
}

// GetBookingByCode возвращает бронирование по коду.
func (r *MemoryRepository) GetBookingByCode(_ context.Context, code string) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.state.codes[code]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return r.getBooking(id)
}

// GetBookingByID возвращает бронирование по идентификатору.
func (r *MemoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getBooking(id)
}

func (r *MemoryRepository) filter(keep func(b *model.Booking) bool) []model.Booking {
	var res []model.Booking
	for _, b := range r.state.bookings {
		if keep(&b) {
			b.PaymentRefs = append([]model.PaymentRef(nil), b.PaymentRefs...)
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].Code < res[j].Code
	})
	return res
}

func page(list []model.Booking, limit, offset int) []model.Booking {
	if offset >= len(list) {
		return nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end]
}

// ListBookingsByUser возвращает страницу бронирований пользователя и их общее число.
func (r *MemoryRepository) ListBookingsByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]model.Booking, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.filter(func(b *model.Booking) bool { return b.UserID == userID })
	return page(all, limit, offset), len(all), nil
}

// ListBookings возвращает страницу бронирований по фильтру администратора.
func (r *MemoryRepository) ListBookings(_ context.Context, f model.BookingFilter) ([]model.Booking, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	all := r.filter(func(b *model.Booking) bool {
		if f.Status != nil && b.Status != *f.Status {
			return false
		}
		if f.TourID != nil && b.TourID != *f.TourID {
			return false
		}
		if search == "" {
			return true
		}
		for _, field := range []string{b.Code, b.FullName, b.Email, b.PhoneNumber} {
			if strings.Contains(strings.ToLower(field), search) {
				return true
			}
		}
		return false
	})
	return page(all, f.Limit, f.Offset()), len(all), nil
}

// ListCapacityConflicts возвращает бронирования с флагом нехватки мест.
func (r *MemoryRepository) ListCapacityConflicts(_ context.Context) ([]model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.filter(func(b *model.Booking) bool { return b.CapacityConflict }), nil
}

// ListDepositedBookings возвращает неотменённые бронирования тура с внесённым депозитом,
// которые заняли места. Бронирования с capacity_conflict не возвращаются.
func (r *MemoryRepository) ListDepositedBookings(_ context.Context, tourID uuid.UUID) ([]model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.filter(func(b *model.Booking) bool {
		return b.TourID == tourID && b.DepositPaid && !b.CapacityConflict && b.Status != model.BookingStatusCanceled
	}), nil
}

// DeleteBooking удаляет бронирование.
func (r *MemoryRepository) DeleteBooking(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.state.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	delete(r.state.codes, b.Code)
	delete(r.state.bookings, id)
	return nil
}

// PaymentStats агрегирует оплаты неотменённых бронирований по способам оплаты.
func (r *MemoryRepository) PaymentStats(_ context.Context) (*model.PaymentStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byMethod := make(map[model.PaymentMethod]*model.PaymentMethodStats)
	stats := &model.PaymentStats{}
	for _, b := range r.state.bookings {
		if b.Status == model.BookingStatusCanceled {
			continue
		}
		m, ok := byMethod[b.PaymentMethod]
		if !ok {
			m = &model.PaymentMethodStats{Method: b.PaymentMethod}
			byMethod[b.PaymentMethod] = m
		}
		m.Bookings++
		if b.DepositPaid {
			m.DepositPaid++
		}
		m.PaidAmount += b.PaidAmount
		m.TotalAmount += b.TotalPrice

		stats.TotalBookings++
		stats.TotalPaid += b.PaidAmount
		stats.TotalValue += b.TotalPrice
	}

	for _, m := range byMethod {
		stats.ByMethod = append(stats.ByMethod, *m)
	}
	sort.Slice(stats.ByMethod, func(i, j int) bool { return stats.ByMethod[i].Method < stats.ByMethod[j].Method })
	return stats, nil
}

type memTx struct {
	s *memState
}

var _ Tx = (*memTx)(nil)

func (t *memTx) LockTour(_ context.Context, id uuid.UUID) (*model.Tour, error) {
	tour, ok := t.s.tours[id]
	if !ok {
		return nil, ErrTourNotFound
	}
	return &tour, nil
}

func (t *memTx) InsertBooking(_ context.Context, b *model.Booking) error {
	if _, exists := t.s.codes[b.Code]; exists {
		return ErrDuplicateBookingCode
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	stored := *b
	stored.PaymentRefs = append([]model.PaymentRef(nil), b.PaymentRefs...)
	t.s.bookings[b.ID] = stored
	t.s.codes[b.Code] = b.ID
	return nil
}

func (t *memTx) lockBooking(id uuid.UUID) (*model.Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	b.PaymentRefs = append([]model.PaymentRef(nil), b.PaymentRefs...)
	return &b, nil
}

func (t *memTx) LockBookingByCode(_ context.Context, code string) (*model.Booking, error) {
	id, ok := t.s.codes[code]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return t.lockBooking(id)
}

func (t *memTx) LockBookingByID(_ context.Context, id uuid.UUID) (*model.Booking, error) {
	return t.lockBooking(id)
}

func (t *memTx) AppendPaymentRef(_ context.Context, bookingID uuid.UUID, ref model.PaymentRef) (bool, error) {
	b, ok := t.s.bookings[bookingID]
	if !ok {
		return false, ErrBookingNotFound
	}
	for _, existing := range b.PaymentRefs {
		if existing.Provider == ref.Provider && existing.Ref == ref.Ref {
			return false, nil
		}
	}
	b.PaymentRefs = append(b.PaymentRefs, ref)
	t.s.bookings[bookingID] = b
	return true, nil
}

func (t *memTx) UpdateBookingPayment(_ context.Context, b *model.Booking) error {
	stored, ok := t.s.bookings[b.ID]
	if !ok {
		return ErrBookingNotFound
	}
	stored.PaidAmount = b.PaidAmount
	stored.DepositPaid = b.DepositPaid
	stored.Status = b.Status
	stored.CapacityConflict = b.CapacityConflict
	stored.UpdatedAt = time.Now()
	b.UpdatedAt = stored.UpdatedAt
	t.s.bookings[b.ID] = stored
	return nil
}

func (t *memTx) UpdateBookingStatus(_ context.Context, id uuid.UUID, status model.BookingStatus) error {
	stored, ok := t.s.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	stored.Status = status
	stored.UpdatedAt = time.Now()
	t.s.bookings[id] = stored
	return nil
}

func (t *memTx) IncrementGuests(_ context.Context, tourID uuid.UUID, n int) (*model.Tour, error) {
	tour, ok := t.s.tours[tourID]
	if !ok {
		return nil, ErrTourNotFound
	}
	if tour.Quantity != nil && tour.CurrentGuests+n > *tour.Quantity {
		return &tour, ErrCapacityExceeded
	}
	tour.CurrentGuests += n
	tour.UpdatedAt = time.Now()
	t.s.tours[tourID] = tour
	return &tour, nil
}

func (t *memTx) ConfirmTourIfReached(_ context.Context, tourID uuid.UUID, at time.Time) (bool, error) {
	tour, ok := t.s.tours[tourID]
	if !ok {
		return false, ErrTourNotFound
	}
	if tour.Status != model.TourStatusPending || tour.CurrentGuests < tour.MinGuests {
		return false, nil
	}
	tour.Status = model.TourStatusConfirmed
	tour.ConfirmedAt = &at
	tour.UpdatedAt = at
	t.s.tours[tourID] = tour
	return true, nil
}

func (t *memTx) UpdateTourStatus(_ context.Context, tourID uuid.UUID, status model.TourStatus, at time.Time) error {
	tour, ok := t.s.tours[tourID]
	if !ok {
		return ErrTourNotFound
	}
	tour.Status = status
	switch status {
	case model.TourStatusConfirmed:
		tour.ConfirmedAt = &at
	case model.TourStatusInProgress:
		tour.DepartedAt = &at
	case model.TourStatusCompleted:
		tour.FinishedAt = &at
	}
	tour.UpdatedAt = at
	t.s.tours[tourID] = tour
	return nil
}

func (t *memTx) InsertTourEvent(_ context.Context, e *model.TourEvent) error {
	if _, ok := t.s.tours[e.TourID]; !ok {
		return ErrTourNotFound
	}
	t.s.nextEventID++
	e.ID = t.s.nextEventID
	t.s.events = append(t.s.events, *e)
	return nil
}
