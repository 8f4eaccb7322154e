// Package notify доставляет уведомления о платежах и подтверждении туров в фоне.
//
// Сервис бронирования кладёт задачу в очередь и сразу продолжает работу;
// ошибки доставки только пишутся в журнал.
package notify

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/tourbooking-system/internal/model"
)

// Mailer отправляет HTML-письмо.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

// TourDirectory предоставляет данные тура и его оплаченные бронирования.
type TourDirectory interface {
	GetTour(ctx context.Context, id uuid.UUID) (*model.Tour, error)
	ListDepositedBookings(ctx context.Context, tourID uuid.UUID) ([]model.Booking, error)
}

type jobKind int

const (
	jobDepositReceived jobKind = iota
	jobFullyPaid
	jobTourConfirmed
)

func (k jobKind) String() string {
	switch k {
	case jobDepositReceived:
		return "deposit_received"
	case jobFullyPaid:
		return "fully_paid"
	case jobTourConfirmed:
		return "tour_confirmed"
	}
	return "unknown"
}

type job struct {
	kind    jobKind
	booking model.Booking
	tourID  uuid.UUID
}

// Options задаёт размер очереди и ограничение скорости отправки писем.
type Options struct {
	QueueSize  int
	RatePerSec float64
	// DrainTimeout ограничивает время доставки оставшихся задач при остановке.
	DrainTimeout time.Duration
}

// Dispatcher принимает задачи уведомлений и выполняет их в фоновой горутине.
type Dispatcher struct {
	jobs    chan job
	mailer  Mailer
	tours   TourDirectory
	limiter *rate.Limiter
	logger  *zap.Logger
	drain   time.Duration
}

// NewDispatcher создаёт диспетчер. Обработку запускает Run.
func NewDispatcher(mailer Mailer, tours TourDirectory, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}

	return &Dispatcher{
		jobs:    make(chan job, opts.QueueSize),
		mailer:  mailer,
		tours:   tours,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		drain:   opts.DrainTimeout,
	}
}

// DepositReceived ставит в очередь письмо о получении депозита.
func (d *Dispatcher) DepositReceived(b model.Booking) {
	d.enqueue(job{kind: jobDepositReceived, booking: b})
}

// FullyPaid ставит в очередь письмо о полной оплате.
func (d *Dispatcher) FullyPaid(b model.Booking) {
	d.enqueue(job{kind: jobFullyPaid, booking: b})
}

// TourConfirmed ставит в очередь рассылку о подтверждении тура.
func (d *Dispatcher) TourConfirmed(tourID uuid.UUID) {
	d.enqueue(job{kind: jobTourConfirmed, tourID: tourID})
}

func (d *Dispatcher) enqueue(j job) {
	select {
	case d.jobs <- j:
	default:
		d.logger.Error("notification queue is full, dropping job",
			zap.Stringer("kind", j.kind),
			zap.String("code", j.booking.Code),
			zap.Stringer("tourID", j.tourID),
		)
	}
}

// Run обрабатывает очередь до отмены ctx, после чего доставляет оставшиеся задачи.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drainQueue()
			return nil
		case j := <-d.jobs:
			d.process(ctx, j)
		}
	}
}

func (d *Dispatcher) drainQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), d.drain)
	defer cancel()

	for {
		select {
		case j := <-d.jobs:
			d.process(ctx, j)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	var err error
	switch j.kind {
	case jobDepositReceived:
		err = d.sendBookingMail(ctx, &j.booking, depositSubject(j.booking.Code), depositTmpl)
	case jobFullyPaid:
		err = d.sendBookingMail(ctx, &j.booking, fullyPaidSubject(j.booking.Code), fullyPaidTmpl)
	case jobTourConfirmed:
		err = d.notifyTourConfirmed(ctx, j.tourID)
	}

	if err != nil {
		d.logger.Error("notification error",
			zap.Error(err),
			zap.Stringer("kind", j.kind),
			zap.String("code", j.booking.Code),
			zap.Stringer("tourID", j.tourID),
		)
	}
}

func (d *Dispatcher) sendBookingMail(ctx context.Context, b *model.Booking, subject string, tmpl *template.Template) error {
	return d.send(ctx, b.Email, subject, tmpl, newMailData(b))
}

func (d *Dispatcher) send(ctx context.Context, to, subject string, tmpl *template.Template, data mailData) error {
	if to == "" {
		return fmt.Errorf("no recipient for %q", subject)
	}

	body, err := render(tmpl, data)
	if err != nil {
		return err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait mail limiter: %w", err)
	}

	return d.mailer.SendMail(ctx, to, subject, body)
}

func (d *Dispatcher) notifyTourConfirmed(ctx context.Context, tourID uuid.UUID) error {
	tour, err := d.tours.GetTour(ctx, tourID)
	if err != nil {
		return fmt.Errorf("load tour: %w", err)
	}

	bookings, err := d.tours.ListDepositedBookings(ctx, tourID)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}

	d.logger.Info("tour confirmed, notifying guests",
		zap.Stringer("tourID", tourID),
		zap.Int("bookings", len(bookings)),
	)

	for i := range bookings {
		data := newMailData(&bookings[i])
		data.TourTitle = tour.Title
		if err := d.send(ctx, bookings[i].Email, tourConfirmedSubject(tour.Title), tourConfirmedTmpl, data); err != nil {
			d.logger.Error("tour confirmed mail error", zap.Error(err), zap.String("code", bookings[i].Code))
		}
	}
	return nil
}
