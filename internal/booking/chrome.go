package booking

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// FormSpec holds the CSS selectors of a booking form.
type FormSpec struct {
	FirstName  string
	LastName   string
	Email      string
	Option     string
	Date       string
	Time       string
	CardNumber string
	Expiry     string
	CVC        string
	Submit     string
	Success    string
}

// DefaultFormSpec matches the reference booking page.
func DefaultFormSpec() FormSpec {
	return FormSpec{
		FirstName:  "#firstname",
		LastName:   "#lastname",
		Email:      "#email",
		Option:     "#device",
		Date:       "#date",
		Time:       "#time",
		CardNumber: "#card-number",
		Expiry:     "#expiry",
		CVC:        "#cvc",
		Submit:     "button[type='submit']",
		Success:    "#success-box",
	}
}

// ChromeConfig configures the headless runner.
type ChromeConfig struct {
	Form      FormSpec
	UserAgent string
	// SuccessTimeout bounds the wait for the confirmation element.
	SuccessTimeout time.Duration
	Headless       bool
}

// ChromeRunner drives headless Chrome through chromedp.
type ChromeRunner struct {
	cfg         ChromeConfig
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromeRunner starts a browser allocator. Call Close when done.
func NewChromeRunner(cfg ChromeConfig) *ChromeRunner {
	if cfg.Form == (FormSpec{}) {
		cfg.Form = DefaultFormSpec()
	}
	if cfg.SuccessTimeout <= 0 {
		cfg.SuccessTimeout = 10 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromeRunner{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
}

// Close shuts the browser allocator down.
func (r *ChromeRunner) Close() {
	r.allocCancel()
}

// Run implements Runner.
func (r *ChromeRunner) Run(ctx context.Context, req Request, card Card) error {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	// Tie the browser tab to the caller's deadline.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	if err := chromedp.Run(taskCtx, r.actions(req, card)...); err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "booking: browser run")
		}
		return eris.Wrap(err, "booking: browser run")
	}
	return nil
}

func (r *ChromeRunner) actions(req Request, card Card) []chromedp.Action {
	f := r.cfg.Form
	var acts []chromedp.Action
	if r.cfg.UserAgent != "" {
		acts = append(acts, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx)
		}))
	}
	acts = append(acts,
		chromedp.Navigate(req.BookingURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.SendKeys(f.FirstName, req.Customer.FirstName, chromedp.ByQuery),
		chromedp.SendKeys(f.LastName, req.Customer.LastName, chromedp.ByQuery),
		chromedp.SendKeys(f.Email, req.Customer.Email, chromedp.ByQuery),
		chromedp.SetValue(f.Option, req.Appointment.Option, chromedp.ByQuery),
		chromedp.SetValue(f.Date, req.Appointment.Date, chromedp.ByQuery),
		chromedp.SetValue(f.Time, req.Appointment.Time, chromedp.ByQuery),
		chromedp.SendKeys(f.CardNumber, card.Number, chromedp.ByQuery),
		chromedp.SendKeys(f.Expiry, card.Expiry, chromedp.ByQuery),
		chromedp.SendKeys(f.CVC, card.CVC, chromedp.ByQuery),
		chromedp.Click(f.Submit, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			wctx, cancel := context.WithTimeout(ctx, r.cfg.SuccessTimeout)
			defer cancel()
			if err := chromedp.WaitVisible(f.Success, chromedp.ByQuery).Do(wctx); err != nil {
				return eris.Wrap(err, "booking: no confirmation shown")
			}
			return nil
		}),
	)
	return acts
}
