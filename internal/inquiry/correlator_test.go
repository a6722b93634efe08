package inquiry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-discovery/internal/extract"
	"github.com/sells-group/price-discovery/internal/jobs"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/pkg/mail"
)

func newTestCorrelator(s *memStore, sender *fakeSender, inbox *fakeInbox, ex extract.PriceExtractor) *Correlator {
	c := NewCorrelator(Deps{
		Store:     s,
		Contacts:  staticContacts{addr: "info@kwikgarage.co.uk"},
		Drafter:   NewLLMDrafter(nil, "", "Alex"),
		Sender:    sender,
		Inbox:     inbox,
		Extractor: ex,
	}, Config{FromName: "Alex", FromAddress: "prices@example.org", MaxAge: 7 * 24 * time.Hour})
	return c.WithClock(func() time.Time { return testNow })
}

func TestCorrelator_SendRecordsInquiry(t *testing.T) {
	s, sender := newMemStore(), &fakeSender{}
	c := newTestCorrelator(s, sender, nil, nil)

	inq, err := c.Send(context.Background(), testProvider(), testServiceType())
	require.NoError(t, err)
	assert.Equal(t, model.InquirySent, inq.Status)
	assert.Equal(t, "out-1@example.org", inq.MessageID)
	assert.Equal(t, "info@kwikgarage.co.uk", inq.ToAddress)
	assert.Equal(t, testNow, inq.SentAt)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "Price enquiry: Oil change", msg.Subject)
	assert.Contains(t, msg.Body, "oil change")
	assert.Equal(t, "prices@example.org", msg.FromAddress)

	// A pending inquiry is not sent twice.
	again, err := c.Send(context.Background(), testProvider(), testServiceType())
	require.NoError(t, err)
	assert.Equal(t, inq.ID, again.ID)
	assert.Len(t, sender.sent, 1)

	state, err := c.Status(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, model.InquiryStateSent, state)
}

func TestCorrelator_SendFailuresLeaveNothing(t *testing.T) {
	s := newMemStore()
	c := newTestCorrelator(s, &fakeSender{err: errors.New("554 relay denied")}, nil, nil)
	_, err := c.Send(context.Background(), testProvider(), testServiceType())
	assert.ErrorIs(t, err, model.ErrSendFailure)
	assert.Empty(t, s.inquiries)

	c = newTestCorrelator(s, &fakeSender{}, nil, nil)
	c.Contacts = staticContacts{err: model.ErrContactNotFound}
	_, err = c.Send(context.Background(), testProvider(), testServiceType())
	assert.ErrorIs(t, err, model.ErrContactNotFound)

	p := testProvider()
	p.Website = ""
	_, err = c.Send(context.Background(), p, testServiceType())
	assert.ErrorIs(t, err, model.ErrContactNotFound)
	assert.Empty(t, s.inquiries)

	state, err := c.Status(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, model.InquiryStateNone, state)
}

func TestCorrelator_SendUsesKnownEmail(t *testing.T) {
	s, sender := newMemStore(), &fakeSender{}
	c := newTestCorrelator(s, sender, nil, nil)
	c.Contacts = staticContacts{err: errors.New("must not be called")}

	p := testProvider()
	p.Email = "owner@kwikgarage.co.uk"
	inq, err := c.Send(context.Background(), p, testServiceType())
	require.NoError(t, err)
	assert.Equal(t, "owner@kwikgarage.co.uk", inq.ToAddress)
}

func sentInquiry(t *testing.T, s *memStore) *model.Inquiry {
	t.Helper()
	c := newTestCorrelator(s, &fakeSender{}, nil, nil)
	inq, err := c.Send(context.Background(), testProvider(), testServiceType())
	require.NoError(t, err)
	return inq
}

func TestCorrelator_MonitorRecordsPricedReply(t *testing.T) {
	s := newMemStore()
	inq := sentInquiry(t, s)

	ex := &mockExtractor{}
	ex.On("Extract", mock.Anything, mock.MatchedBy(func(r extract.Request) bool {
		return r.Source == "email_reply" && r.Target == "Oil change" && !strings.Contains(r.Text, "Could you")
	})).Return(&extract.Result{Found: true, Price: 49, Currency: "GBP"}, nil).Once()

	reply := mail.InboundMessage{
		UID:       7,
		MessageID: "reply-1@kwikgarage.co.uk",
		InReplyTo: []string{inq.MessageID},
		Body:      "Hi, it's £49 all in.\n\nOn Mon, Alex wrote:\n> Could you tell me",
	}
	unrelated := mail.InboundMessage{UID: 8, MessageID: "spam@elsewhere", Body: "Buy now"}
	inbox := &fakeInbox{msgs: []mail.InboundMessage{reply, unrelated}}

	c := newTestCorrelator(s, &fakeSender{}, inbox, ex)
	report, err := c.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Priced)
	assert.Equal(t, 1, report.Unmatched)
	assert.ElementsMatch(t, []uint32{7, 8}, inbox.acked)

	require.Len(t, s.obs, 1)
	obs := s.obs[0]
	assert.Equal(t, model.SourceEmailReply, obs.SourceType)
	assert.Equal(t, 49.0, obs.Price)
	assert.Equal(t, "prov-1", obs.ProviderID)
	assert.Equal(t, model.InquiryReplied, s.inquiries[inq.ID].Status)
	assert.Equal(t, "reply-1@kwikgarage.co.uk", s.inquiries[inq.ID].ReplyMessageID)

	// The same reply delivered again adds nothing.
	inbox.acked = nil
	report, err = c.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Len(t, s.obs, 1)
	assert.ElementsMatch(t, []uint32{7, 8}, inbox.acked)

	state, err := c.Status(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, model.InquiryStateReplied, state)
}

func TestCorrelator_MonitorReplyWithoutPrice(t *testing.T) {
	s := newMemStore()
	inq := sentInquiry(t, s)
	ex := &mockExtractor{}
	ex.On("Extract", mock.Anything, mock.Anything).Return(&extract.Result{Found: false}, nil)

	inbox := &fakeInbox{msgs: []mail.InboundMessage{{UID: 1, MessageID: "r@x", References: []string{"<" + inq.MessageID + ">"}, Body: "Please call us."}}}
	report, err := newTestCorrelator(s, &fakeSender{}, inbox, ex).Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Priced)
	assert.Empty(t, s.obs)
	assert.Equal(t, model.InquiryReplied, s.inquiries[inq.ID].Status)
}

func TestCorrelator_MonitorDefersOnErrors(t *testing.T) {
	s := newMemStore()
	inq := sentInquiry(t, s)
	ex := &mockExtractor{}
	ex.On("Extract", mock.Anything, mock.Anything).Return(nil, model.ErrExtractionFailure)

	inbox := &fakeInbox{msgs: []mail.InboundMessage{{UID: 3, InReplyTo: []string{inq.MessageID}, Body: "£40"}}}
	report, err := newTestCorrelator(s, &fakeSender{}, inbox, ex).Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
	assert.Empty(t, inbox.acked)
	assert.Equal(t, model.InquirySent, s.inquiries[inq.ID].Status)

	s.findErr = errors.New("db down")
	report, err = newTestCorrelator(s, &fakeSender{}, inbox, ex).Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
}

func TestCorrelator_ExpireAndIgnoreLateReply(t *testing.T) {
	s := newMemStore()
	inq := sentInquiry(t, s)

	ex := &mockExtractor{}
	inbox := &fakeInbox{msgs: []mail.InboundMessage{{UID: 9, InReplyTo: []string{inq.MessageID}, Body: "£40"}}}
	c := newTestCorrelator(s, &fakeSender{}, inbox, ex)

	n, err := c.Expire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, testNow.Add(-7*24*time.Hour), s.expireCalls[0])

	c.WithClock(func() time.Time { return testNow.Add(8 * 24 * time.Hour) })
	n, err = c.Expire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, model.InquiryExpired, s.inquiries[inq.ID].Status)

	state, err := c.Status(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, model.InquiryStateNone, state)

	report, err := c.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Empty(t, s.obs)
	ex.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)

	// Re-inquiry after expiry is a fresh send.
	again, err := c.Send(context.Background(), testProvider(), testServiceType())
	require.NoError(t, err)
	assert.NotEqual(t, inq.ID, again.ID)
}

func TestCorrelator_EnqueueRunsOnPool(t *testing.T) {
	s, sender := newMemStore(), &fakeSender{}
	pool := jobs.NewPool(1, 4)
	c := newTestCorrelator(s, sender, nil, nil)
	c.Pool = pool

	id, err := c.Enqueue(context.Background(), testProvider(), testServiceType())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pool.Stop(context.Background()))
	assert.Len(t, sender.sent, 1)
	require.Contains(t, s.inquiries, id)
	assert.Equal(t, model.InquirySent, s.inquiries[id].Status)

	// A pending inquiry is reported back instead of being sent again.
	c.Pool = jobs.NewPool(1, 4)
	again, err := c.Enqueue(context.Background(), testProvider(), testServiceType())
	require.NoError(t, err)
	assert.Equal(t, id, again)
	require.NoError(t, c.Pool.Stop(context.Background()))
	assert.Len(t, sender.sent, 1)

	c.Pool = nil
	_, err = c.Enqueue(context.Background(), testProvider(), testServiceType())
	assert.Error(t, err)
}

func TestCorrelator_SendSkipsPricedProvider(t *testing.T) {
	s, sender := newMemStore(), &fakeSender{}
	s.obs = []model.Observation{{
		ID: "obs-1", ProviderID: "prov-1", ServiceType: "oil_change",
		Price: 45, Currency: "GBP", SourceType: model.SourceScrape, ObservedAt: testNow,
	}}
	c := newTestCorrelator(s, sender, nil, nil)

	_, err := c.Send(context.Background(), testProvider(), testServiceType())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyPriced))
	assert.Empty(t, sender.sent)
	assert.Empty(t, s.inquiries)

	// A price for another service does not block this one.
	other := model.ServiceType{Slug: "mot_test", Name: "MOT test", Category: "car_mechanic"}
	_, err = c.Send(context.Background(), testProvider(), other)
	require.NoError(t, err)
	assert.Len(t, sender.sent, 1)
}

func TestCorrelator_EnqueueSkipsPricedProvider(t *testing.T) {
	s, sender := newMemStore(), &fakeSender{}
	pool := jobs.NewPool(1, 4)
	c := newTestCorrelator(s, sender, nil, nil)
	c.Pool = pool

	// Hold the only worker so the inquiry stays queued.
	release := make(chan struct{})
	require.NoError(t, pool.Submit("hold", func(context.Context) { <-release }))

	id, err := c.Enqueue(context.Background(), testProvider(), testServiceType())
	require.NoError(t, err)
	dup, err := c.Enqueue(context.Background(), testProvider(), testServiceType())
	require.NoError(t, err)
	assert.Equal(t, id, dup)

	// A price lands before the worker picks the inquiry up.
	s.mu.Lock()
	s.obs = append(s.obs, model.Observation{
		ID: "obs-1", ProviderID: "prov-1", ServiceType: "oil_change",
		Price: 45, Currency: "GBP", SourceType: model.SourceScrape, ObservedAt: testNow,
	})
	s.mu.Unlock()
	close(release)
	require.NoError(t, pool.Stop(context.Background()))

	assert.Empty(t, sender.sent)
	assert.NotContains(t, s.inquiries, id)
}

func TestRunMonitor_StopsOnCancel(t *testing.T) {
	s := newMemStore()
	c := newTestCorrelator(s, &fakeSender{}, &fakeInbox{}, &mockExtractor{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunMonitor(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.expireCalls) >= 2
	}, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunMonitor did not stop")
	}
}
