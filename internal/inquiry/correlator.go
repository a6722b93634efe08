package inquiry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/extract"
	"github.com/sells-group/price-discovery/internal/jobs"
	"github.com/sells-group/price-discovery/internal/metrics"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/store"
	"github.com/sells-group/price-discovery/pkg/mail"
)

// DefaultMaxAge is how long a sent inquiry waits for a reply.
const DefaultMaxAge = 14 * 24 * time.Hour

// pricedRadiusMeters scopes the priced check to the provider's own location.
const pricedRadiusMeters = 1

// ErrAlreadyPriced is returned by Send when the provider gained a price for
// the service after the inquiry was scheduled.
var ErrAlreadyPriced = eris.New("inquiry: provider already priced")

// Store is the persistence the correlator needs.
type Store interface {
	GetServiceType(ctx context.Context, slug string) (*model.ServiceType, error)
	CreateInquiry(ctx context.Context, inq *model.Inquiry) error
	FindInquiryByMessageID(ctx context.Context, messageIDs []string) (*model.Inquiry, error)
	ListInquiries(ctx context.Context, providerID string) ([]model.Inquiry, error)
	FindProvidersWithObservations(ctx context.Context, q store.GeoQuery) ([]store.ProviderMatch, error)
	RecordReply(ctx context.Context, inquiryID, replyMessageID string, at time.Time, obs *model.Observation) (bool, error)
	ExpireInquiries(ctx context.Context, sentBefore time.Time) (int64, error)
}

// ContactLookup finds an email address for a website.
type ContactLookup interface {
	Find(ctx context.Context, website string) (string, error)
}

// Config configures the correlator.
type Config struct {
	FromName    string
	FromAddress string
	MaxAge      time.Duration
	// ExtractTimeout bounds price extraction from one reply.
	ExtractTimeout time.Duration
}

// Deps are the correlator's collaborators. Inbox and Extractor are only
// needed for Monitor; Pool only for Enqueue.
type Deps struct {
	Store     Store
	Contacts  ContactLookup
	Drafter   Drafter
	Sender    mail.Sender
	Inbox     mail.Inbox
	Extractor extract.PriceExtractor
	Pool      *jobs.Pool
}

// Correlator sends inquiries and matches replies to them.
type Correlator struct {
	Deps
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]string // pair key -> inquiry id
}

// NewCorrelator creates a correlator.
func NewCorrelator(deps Deps, cfg Config) *Correlator {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 60 * time.Second
	}
	return &Correlator{
		Deps:     deps,
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[string]string),
	}
}

// WithClock overrides the time source.
func (c *Correlator) WithClock(now func() time.Time) *Correlator {
	c.now = now
	return c
}

// Send discovers the provider's address, drafts and sends an inquiry for st
// and records it as sent. If an inquiry for the pair is already waiting for
// a reply it is returned unchanged, and a provider that already has a price
// for st gets ErrAlreadyPriced. Contact and send failures wrap
// model.ErrContactNotFound and model.ErrSendFailure and leave nothing stored.
func (c *Correlator) Send(ctx context.Context, provider model.Provider, st model.ServiceType) (*model.Inquiry, error) {
	return c.send(ctx, uuid.New().String(), provider, st)
}

// pending returns the inquiry for the pair that is still waiting for a reply.
func (c *Correlator) pending(ctx context.Context, providerID, slug string) (*model.Inquiry, error) {
	existing, err := c.Store.ListInquiries(ctx, providerID)
	if err != nil {
		return nil, eris.Wrap(err, "inquiry: list existing")
	}
	for i := range existing {
		if existing[i].ServiceType == slug && existing[i].Status == model.InquirySent {
			return &existing[i], nil
		}
	}
	return nil, nil
}

// priced reports whether the provider has an observation for st.
func (c *Correlator) priced(ctx context.Context, provider model.Provider, st model.ServiceType) (bool, error) {
	matches, err := c.Store.FindProvidersWithObservations(ctx, store.GeoQuery{
		Slugs:        []string{st.Slug},
		Center:       provider.Location,
		RadiusMeters: pricedRadiusMeters,
	})
	if err != nil {
		return false, eris.Wrap(err, "inquiry: check observations")
	}
	for _, m := range matches {
		if m.Provider.ID == provider.ID && len(m.Observations) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Correlator) send(ctx context.Context, id string, provider model.Provider, st model.ServiceType) (*model.Inquiry, error) {
	log := zap.L().With(
		zap.String("provider_id", provider.ID),
		zap.String("service_type", st.Slug),
	)

	existing, err := c.pending(ctx, provider.ID, st.Slug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debug("inquiry: already pending", zap.String("inquiry_id", existing.ID))
		return existing, nil
	}

	priced, err := c.priced(ctx, provider, st)
	if err != nil {
		return nil, err
	}
	if priced {
		return nil, eris.Wrapf(ErrAlreadyPriced, "provider %s service %s", provider.ID, st.Slug)
	}

	if provider.Website == "" && provider.Email == "" {
		return nil, eris.Wrapf(model.ErrContactNotFound, "inquiry: provider %s has no website", provider.ID)
	}
	to := provider.Email
	if to == "" {
		to, err = c.Contacts.Find(ctx, provider.Website)
		if err != nil {
			metrics.IncInquiry("contact_not_found")
			return nil, err
		}
	}

	draft, err := c.Drafter.Draft(ctx, provider, st)
	if err != nil || draft == nil {
		draft = TemplateDraft(provider, st, c.cfg.FromName)
	}

	msgID, err := c.Sender.Send(ctx, &mail.OutboundMessage{
		FromName:    c.cfg.FromName,
		FromAddress: c.cfg.FromAddress,
		To:          to,
		Subject:     draft.Subject,
		Body:        draft.Body,
	})
	if err != nil {
		metrics.IncInquiry("send_failed")
		return nil, eris.Wrapf(model.ErrSendFailure, "inquiry: send to %s: %v", to, err)
	}

	inq := &model.Inquiry{
		ID:          id,
		ProviderID:  provider.ID,
		ServiceType: st.Slug,
		Status:      model.InquirySent,
		ToAddress:   to,
		Subject:     draft.Subject,
		MessageID:   mail.NormalizeMessageID(msgID),
		SentAt:      c.now().UTC(),
	}
	if err := c.Store.CreateInquiry(ctx, inq); err != nil {
		return nil, eris.Wrap(err, "inquiry: record sent")
	}
	metrics.IncInquiry(string(model.InquirySent))
	log.Info("inquiry: sent", zap.String("to", to), zap.String("message_id", inq.MessageID))
	return inq, nil
}

// Enqueue schedules Send on the worker pool and returns the id the inquiry
// will be stored under. A pair that is already pending or in flight returns
// its existing id without scheduling again. Background failures are logged
// and leave nothing stored; Status reports the outcome.
func (c *Correlator) Enqueue(ctx context.Context, provider model.Provider, st model.ServiceType) (string, error) {
	if c.Pool == nil {
		return "", eris.New("inquiry: no worker pool")
	}
	key := model.JobKey{ProviderID: provider.ID, ServiceType: st.Slug}.String()
	if id, ok := c.inflightID(key); ok {
		return id, nil
	}
	existing, err := c.pending(ctx, provider.ID, st.Slug)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	c.mu.Lock()
	if id, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return id, nil
	}
	id := uuid.New().String()
	c.inflight[key] = id
	c.mu.Unlock()

	err = c.Pool.Submit("inquiry:"+key, func(ctx context.Context) {
		defer c.release(key)
		_, err := c.send(ctx, id, provider, st)
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyPriced):
			zap.L().Debug("inquiry: skipped, provider already priced",
				zap.String("provider_id", provider.ID),
				zap.String("service_type", st.Slug),
			)
		default:
			zap.L().Warn("inquiry: background send failed",
				zap.String("provider_id", provider.ID),
				zap.String("service_type", st.Slug),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		c.release(key)
		return "", eris.Wrap(err, "inquiry: enqueue")
	}
	return id, nil
}

func (c *Correlator) inflightID(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.inflight[key]
	return id, ok
}

func (c *Correlator) release(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

// MonitorReport summarizes one inbox scan.
type MonitorReport struct {
	Scanned    int `json:"scanned"`
	Matched    int `json:"matched"`
	Priced     int `json:"priced"`
	Duplicates int `json:"duplicates"`
	Unmatched  int `json:"unmatched"`
	Deferred   int `json:"deferred"`
}

// Monitor scans the inbox once. A reply whose threading headers name a sent
// inquiry records the reply, plus an email_reply observation when a price
// is found, and moves the inquiry to replied. Messages that hit a store or
// extraction error stay unacknowledged for the next scan.
func (c *Correlator) Monitor(ctx context.Context) (*MonitorReport, error) {
	if c.Inbox == nil {
		return nil, eris.New("inquiry: no inbox configured")
	}
	msgs, err := c.Inbox.PollNewMessages(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "inquiry: poll inbox")
	}

	report := &MonitorReport{Scanned: len(msgs)}
	var ack []uint32
	for _, msg := range msgs {
		done, err := c.handleReply(ctx, msg, report)
		if err != nil {
			zap.L().Warn("inquiry: reply deferred",
				zap.String("message_id", msg.MessageID),
				zap.Error(err),
			)
			report.Deferred++
		}
		if done {
			ack = append(ack, msg.UID)
		}
	}
	if err := c.Inbox.Ack(ctx, ack); err != nil {
		return report, eris.Wrap(err, "inquiry: ack messages")
	}
	return report, nil
}

// handleReply reports whether msg is finished with (matched or not).
func (c *Correlator) handleReply(ctx context.Context, msg mail.InboundMessage, report *MonitorReport) (bool, error) {
	ids := msg.ThreadIDs()
	if len(ids) == 0 {
		report.Unmatched++
		return true, nil
	}
	inq, err := c.Store.FindInquiryByMessageID(ctx, ids)
	if err != nil {
		return false, err
	}
	if inq == nil {
		report.Unmatched++
		return true, nil
	}
	report.Matched++
	log := zap.L().With(zap.String("inquiry_id", inq.ID), zap.String("provider_id", inq.ProviderID))
	if inq.Status != model.InquirySent {
		log.Debug("inquiry: ignoring reply", zap.String("status", string(inq.Status)))
		report.Duplicates++
		return true, nil
	}

	obs, err := c.extractPrice(ctx, inq, msg)
	if err != nil {
		return false, err
	}
	recorded, err := c.Store.RecordReply(ctx, inq.ID, msg.MessageID, c.now().UTC(), obs)
	if err != nil {
		return false, err
	}
	if !recorded {
		report.Duplicates++
		return true, nil
	}
	metrics.IncInquiry(string(model.InquiryReplied))
	if obs != nil {
		report.Priced++
		log.Info("inquiry: reply priced", zap.Float64("price", obs.Price), zap.String("currency", obs.Currency))
	} else {
		log.Info("inquiry: reply without price")
	}
	return true, nil
}

func (c *Correlator) extractPrice(ctx context.Context, inq *model.Inquiry, msg mail.InboundMessage) (*model.Observation, error) {
	body := mail.StripQuoted(msg.Body)
	if body == "" || c.Extractor == nil {
		return nil, nil
	}
	target := model.SlugToLabel(inq.ServiceType)
	var description string
	st, err := c.Store.GetServiceType(ctx, inq.ServiceType)
	switch {
	case err == nil:
		target, description = st.Name, st.Description
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	ectx, cancel := context.WithTimeout(ctx, c.cfg.ExtractTimeout)
	defer cancel()
	res, err := c.Extractor.Extract(ectx, extract.Request{
		Text:        body,
		Target:      target,
		Description: description,
		Source:      "email_reply",
	})
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, nil
	}
	obs := &model.Observation{
		ID:          uuid.New().String(),
		ProviderID:  inq.ProviderID,
		ServiceType: inq.ServiceType,
		Price:       res.Price,
		Currency:    res.Currency,
		SourceType:  model.SourceEmailReply,
		SourceURL:   "mailto:" + inq.ToAddress,
		ObservedAt:  c.now().UTC(),
	}
	if err := obs.Validate(); err != nil {
		zap.L().Warn("inquiry: discarding invalid reply price", zap.String("inquiry_id", inq.ID), zap.Error(err))
		return nil, nil
	}
	return obs, nil
}

// Expire moves inquiries unanswered for longer than MaxAge to expired.
func (c *Correlator) Expire(ctx context.Context) (int64, error) {
	n, err := c.Store.ExpireInquiries(ctx, c.now().UTC().Add(-c.cfg.MaxAge))
	if err != nil {
		return 0, eris.Wrap(err, "inquiry: expire")
	}
	for range n {
		metrics.IncInquiry(string(model.InquiryExpired))
	}
	if n > 0 {
		zap.L().Info("inquiry: expired unanswered", zap.Int64("count", n), zap.Error(model.ErrCorrelationTimeout))
	}
	return n, nil
}

// RunMonitor runs Monitor then Expire every interval until ctx ends.
func (c *Correlator) RunMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		c.monitorOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (c *Correlator) monitorOnce(ctx context.Context) {
	if report, err := c.Monitor(ctx); err != nil {
		zap.L().Warn("inquiry: monitor failed", zap.Error(err))
	} else if report.Scanned > 0 {
		zap.L().Info("inquiry: inbox scanned",
			zap.Int("scanned", report.Scanned),
			zap.Int("matched", report.Matched),
			zap.Int("priced", report.Priced),
		)
	}
	if _, err := c.Expire(ctx); err != nil {
		zap.L().Warn("inquiry: expiry failed", zap.Error(err))
	}
}

// Status is the provider-level inquiry state: replied if any inquiry got a
// reply, sent if one is waiting, else none. Expired inquiries read as none.
func (c *Correlator) Status(ctx context.Context, providerID string) (model.InquiryState, error) {
	inqs, err := c.Store.ListInquiries(ctx, providerID)
	if err != nil {
		return model.InquiryStateNone, eris.Wrap(err, "inquiry: status")
	}
	state := model.InquiryStateNone
	for _, inq := range inqs {
		switch inq.Status {
		case model.InquiryReplied:
			return model.InquiryStateReplied, nil
		case model.InquirySent:
			state = model.InquiryStateSent
		}
	}
	return state, nil
}
