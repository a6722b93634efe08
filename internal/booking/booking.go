// Package booking fills a provider's online booking form in a headless
// browser on a dedicated worker.
package booking

import (
	"context"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/jobs"
	"github.com/sells-group/price-discovery/internal/metrics"
)

// DefaultTimeout bounds one booking run end to end.
const DefaultTimeout = 300 * time.Second

var (
	// ErrInvalidRequest is returned for incomplete booking requests.
	ErrInvalidRequest = eris.New("booking: invalid request")
	// ErrNotFound is returned by Get for unknown bookings.
	ErrNotFound = eris.New("booking: not found")
)

// Customer is who the booking is for.
type Customer struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
}

// Appointment is what and when to book. Option must match a value of the
// form's service select.
type Appointment struct {
	Option string `json:"device"`
	Date   string `json:"date"` // YYYY-MM-DD
	Time   string `json:"time"` // HH:MM
}

// Request is one booking.
type Request struct {
	ProviderID  string      `json:"provider_id,omitempty"`
	BookingURL  string      `json:"booking_url"`
	Customer    Customer    `json:"customer"`
	Appointment Appointment `json:"appointment"`
}

// Validate checks the fields the form needs.
func (r Request) Validate() error {
	u, err := url.Parse(r.BookingURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return eris.Wrapf(ErrInvalidRequest, "booking url %q", r.BookingURL)
	}
	if strings.TrimSpace(r.Customer.FirstName) == "" || strings.TrimSpace(r.Customer.LastName) == "" {
		return eris.Wrap(ErrInvalidRequest, "customer name is required")
	}
	if _, err := mail.ParseAddress(r.Customer.Email); err != nil {
		return eris.Wrapf(ErrInvalidRequest, "customer email %q", r.Customer.Email)
	}
	if r.Appointment.Option == "" {
		return eris.Wrap(ErrInvalidRequest, "appointment option is required")
	}
	if _, err := time.Parse("2006-01-02", r.Appointment.Date); err != nil {
		return eris.Wrapf(ErrInvalidRequest, "appointment date %q", r.Appointment.Date)
	}
	if _, err := time.Parse("15:04", r.Appointment.Time); err != nil {
		return eris.Wrapf(ErrInvalidRequest, "appointment time %q", r.Appointment.Time)
	}
	return nil
}

// Card is a payment card handed to the form. It is never logged or stored.
type Card struct {
	Number string
	Expiry string // MM/YY
	CVC    string
}

// CardIssuer provisions a card for one booking.
type CardIssuer interface {
	Issue(ctx context.Context, req Request) (Card, error)
}

// StaticCardIssuer returns the same card every time (test mode).
type StaticCardIssuer struct{ Card Card }

// Issue implements CardIssuer.
func (s StaticCardIssuer) Issue(context.Context, Request) (Card, error) { return s.Card, nil }

// TestCard is the processor's public test card number.
var TestCard = Card{Number: "4242 4242 4242 4242", Expiry: "12/28", CVC: "123"}

// Runner fills and submits the booking form.
type Runner interface {
	Run(ctx context.Context, req Request, card Card) error
}

// State is a booking run's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Booking is the tracked status of one run.
type Booking struct {
	ID         string     `json:"id"`
	ProviderID string     `json:"provider_id,omitempty"`
	State      State      `json:"state"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Service queues booking runs on its own worker pool.
type Service struct {
	pool    *jobs.Pool
	issuer  CardIssuer
	runner  Runner
	timeout time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	bookings map[string]*Booking
}

// NewService creates a booking service; timeout <= 0 uses DefaultTimeout.
func NewService(pool *jobs.Pool, issuer CardIssuer, runner Runner, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		pool:     pool,
		issuer:   issuer,
		runner:   runner,
		timeout:  timeout,
		now:      time.Now,
		bookings: make(map[string]*Booking),
	}
}

// Submit validates req and queues a run. It returns immediately.
func (s *Service) Submit(_ context.Context, req Request) (*Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	b := &Booking{
		ID:         uuid.New().String(),
		ProviderID: req.ProviderID,
		State:      StatePending,
		CreatedAt:  s.now().UTC(),
	}
	cp := *b
	s.mu.Lock()
	s.bookings[b.ID] = b
	s.mu.Unlock()

	if err := s.pool.Submit("booking:"+cp.ID, func(ctx context.Context) { s.run(ctx, cp.ID, req) }); err != nil {
		s.finish(cp.ID, err)
		return nil, eris.Wrap(err, "booking: submit")
	}
	zap.L().Info("booking: queued", zap.String("booking_id", cp.ID), zap.String("provider_id", req.ProviderID))
	return &cp, nil
}

func (s *Service) run(ctx context.Context, id string, req Request) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.setState(id, StateRunning)

	card, err := s.issuer.Issue(ctx, req)
	if err != nil {
		s.finish(id, eris.Wrap(err, "booking: issue card"))
		return
	}
	s.finish(id, s.runner.Run(ctx, req, card))
}

func (s *Service) setState(id string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bookings[id]; ok {
		b.State = st
	}
}

func (s *Service) finish(id string, err error) {
	now := s.now().UTC()
	state := StateSucceeded
	if err != nil {
		state = StateFailed
	}
	s.mu.Lock()
	b, ok := s.bookings[id]
	if ok {
		b.FinishedAt = &now
		b.State = state
		if err != nil {
			b.Error = err.Error()
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	metrics.IncBooking(string(state))
	log := zap.L().With(zap.String("booking_id", id))
	if err != nil {
		log.Warn("booking: failed", zap.Error(err))
		return
	}
	log.Info("booking: succeeded")
}

// Get returns a booking's status.
func (s *Service) Get(id string) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "booking %s", id)
	}
	cp := *b
	return &cp, nil
}
