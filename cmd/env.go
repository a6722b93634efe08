package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/booking"
	"github.com/sells-group/price-discovery/internal/config"
	"github.com/sells-group/price-discovery/internal/discovery"
	"github.com/sells-group/price-discovery/internal/embed"
	"github.com/sells-group/price-discovery/internal/extract"
	"github.com/sells-group/price-discovery/internal/inquiry"
	"github.com/sells-group/price-discovery/internal/jobs"
	"github.com/sells-group/price-discovery/internal/metrics"
	"github.com/sells-group/price-discovery/internal/resilience"
	"github.com/sells-group/price-discovery/internal/scrape"
	"github.com/sells-group/price-discovery/internal/search"
	"github.com/sells-group/price-discovery/internal/store"
	anthropicpkg "github.com/sells-group/price-discovery/pkg/anthropic"
	"github.com/sells-group/price-discovery/pkg/jina"
	"github.com/sells-group/price-discovery/pkg/mail"
	"github.com/sells-group/price-discovery/pkg/perplexity"
)

// shutdownTimeout bounds how long Close waits for queued background work.
const shutdownTimeout = 30 * time.Second

// appEnv holds the initialized store, clients and services shared by the
// commands.
type appEnv struct {
	Store      store.Store
	Jobs       jobs.Store
	Pool       *jobs.Pool
	Breakers   *resilience.ServiceBreakers
	Fetcher    scrape.Fetcher
	Extractor  extract.PriceExtractor
	Embedder   embed.Embedder // nil without an OpenAI key
	Cascade    *discovery.Cascade
	Scheduler  *discovery.Scheduler
	Correlator *inquiry.Correlator
	Engine     *search.Engine

	// Booking is only built by initBooking.
	Bookings    *booking.Service
	bookingPool *jobs.Pool
	chrome      *booking.ChromeRunner

	redis *redis.Client
}

// Close drains background work and releases resources.
func (e *appEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if e.bookingPool != nil {
		if err := e.bookingPool.Stop(ctx); err != nil {
			zap.L().Warn("booking pool did not drain", zap.Error(err))
		}
	}
	if e.chrome != nil {
		e.chrome.Close()
	}
	if e.Pool != nil {
		if err := e.Pool.Stop(ctx); err != nil {
			zap.L().Warn("worker pool did not drain", zap.Error(err))
		}
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initJobStore(ctx context.Context) (jobs.Store, *redis.Client, error) {
	ttl := config.Secs(cfg.Jobs.TTLSecs)
	if cfg.Jobs.Backend != "redis" {
		return jobs.NewMemoryStore(ttl), nil, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, eris.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, eris.Wrap(err, "ping redis")
	}
	return jobs.NewRedisStore(client, cfg.Redis.KeyPrefix, ttl), client, nil
}

// initEnv validates config for mode, opens the store and builds the
// discovery, search and inquiry services. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	metrics.MustRegister()

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Jobs, env.redis, err = initJobStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pool = jobs.NewPool(cfg.Jobs.Workers, cfg.Jobs.QueueSize)

	breakerCfg := resilience.FromCircuitConfig(cfg.Discovery.BreakerCooldownSecs)
	breakerCfg.OnTrip = countBreakerTrip
	env.Breakers = resilience.NewServiceBreakers(breakerCfg)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)
	perplexityClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)

	// Build fetch chain: direct HTTP primary, Jina reader fallback, page cache in front.
	matcher := scrape.NewPathMatcher(cfg.Discovery.ExcludePaths)
	scrapers := []scrape.Scraper{
		scrape.NewLocalScraper(scrape.LocalScraperConfig{
			Timeout:    config.Secs(cfg.Discovery.FetchTimeoutSecs),
			UserAgent:  cfg.Discovery.UserAgent,
			PerHostRPS: cfg.Discovery.PerHostRPS,
			Retry: resilience.FromRetryConfig(cfg.Discovery.FetchRetries,
				cfg.Discovery.RetryBackoffMs, cfg.Discovery.RetryMaxBackoffMs),
		}),
	}
	if cfg.Jina.Key != "" {
		scrapers = append(scrapers, scrape.NewJinaAdapter(jinaClient, env.Breakers.Get("jina_reader")))
	}
	chain := scrape.NewChain(matcher, scrapers...)
	env.Fetcher = scrape.NewCachedFetcher(chain, st, time.Duration(cfg.Discovery.PageCacheTTLHours)*time.Hour)

	env.Extractor = extract.NewLLMExtractor(anthropicClient, extract.Config{
		Model:           cfg.Anthropic.HaikuModel,
		DefaultCurrency: cfg.Discovery.DefaultCurrency,
	})

	if cfg.OpenAI.Key != "" {
		env.Embedder = embed.NewOpenAIEmbedder(embed.Config{
			APIKey:     cfg.OpenAI.Key,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			Dimensions: cfg.OpenAI.Dimensions,
			BatchSize:  cfg.OpenAI.BatchSize,
		})
	} else {
		zap.L().Debug("PRICE_OPENAI_KEY not set, semantic matching disabled")
	}

	env.Cascade = discovery.NewCascade(st, config.Secs(cfg.Discovery.CascadeTimeoutSecs),
		buildTiers(env, perplexityClient, jinaClient)...)
	env.Scheduler = discovery.NewScheduler(env.Jobs, env.Pool, env.Cascade, st)

	env.Correlator = buildCorrelator(env, anthropicClient)

	engineOpts := []search.Option{search.WithDiscovery(env.Scheduler)}
	if env.Embedder != nil {
		engineOpts = append(engineOpts, search.WithEmbedder(env.Embedder))
	}
	if cfg.Search.IntentResolution && cfg.Anthropic.Key != "" {
		engineOpts = append(engineOpts, search.WithIntentResolver(
			search.NewLLMIntentResolver(anthropicClient, cfg.Anthropic.HaikuModel)))
	}
	if cfg.Search.AutoInquire && env.Correlator.Sender != nil {
		engineOpts = append(engineOpts, search.WithInquiries(env.Correlator))
	}
	env.Engine = search.NewEngine(st, search.Config{
		Thresholds: search.Thresholds{
			Vector: cfg.Search.VectorThreshold,
			Text:   cfg.Search.TextThreshold,
		},
		MatchLimit:            cfg.Search.MatchLimit,
		ProviderLimit:         cfg.Search.ProviderLimit,
		DefaultRadiusMeters:   cfg.Search.DefaultRadiusMeters,
		MaxRadiusMeters:       cfg.Search.MaxRadiusMeters,
		MaxDiscoveryProviders: cfg.Search.MaxDiscoveryProviders,
		IntentTimeout:         config.Secs(cfg.Search.IntentTimeoutSecs),
		AutoInquire:           cfg.Search.AutoInquire,
	}, engineOpts...)

	zap.L().Info("environment ready",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.String("jobs", cfg.Jobs.Backend),
		zap.Strings("tiers", env.Cascade.Tiers()),
	)
	return env, nil
}

// buildTiers orders the cascade: regex crawl, semantic read, then one
// fallback per configured external search dependency.
func buildTiers(env *appEnv, perplexityClient perplexity.Client, jinaClient jina.Client) []discovery.Strategy {
	exclude := scrape.NewPathMatcher(cfg.Discovery.ExcludePaths)
	tiers := []discovery.Strategy{
		discovery.NewRegexStrategy(env.Fetcher, exclude, discovery.CrawlConfig{
			TopLinks:     cfg.Discovery.TopLinks,
			SubLinks:     cfg.Discovery.SubLinks,
			MaxPages:     cfg.Discovery.MaxPages,
			FetchTimeout: config.Secs(cfg.Discovery.FetchTimeoutSecs),
		}),
		discovery.NewSemanticStrategy(env.Extractor, discovery.SemanticConfig{
			MinOverlap: cfg.Discovery.SemanticMinOverlap,
			MaxChars:   cfg.Discovery.SemanticMaxChars,
			Timeout:    config.Secs(cfg.Discovery.LLMTimeoutSecs),
		}),
	}

	fallbackTimeout := config.Secs(cfg.Discovery.FallbackTimeoutSecs)
	if cfg.Perplexity.Key != "" {
		tiers = append(tiers, discovery.NewFallbackStrategy("perplexity",
			discovery.NewPerplexitySearcher(perplexityClient),
			env.Breakers.Get("perplexity"), env.Extractor, fallbackTimeout))
	}
	if cfg.Jina.Key != "" {
		tiers = append(tiers, discovery.NewFallbackStrategy("jina",
			discovery.NewJinaSearcher(jinaClient),
			env.Breakers.Get("jina"), env.Extractor, fallbackTimeout))
	}
	return tiers
}

// buildCorrelator wires the inquiry correlator. Sender and Inbox stay nil
// when SMTP or IMAP is not configured.
func buildCorrelator(env *appEnv, anthropicClient anthropicpkg.Client) *inquiry.Correlator {
	deps := inquiry.Deps{
		Store:     env.Store,
		Contacts:  inquiry.NewContactFinder(env.Fetcher, config.Secs(cfg.Inquiry.ContactTimeoutSecs)),
		Drafter:   inquiry.NewLLMDrafter(anthropicClient, cfg.Anthropic.HaikuModel, cfg.Mail.FromName),
		Extractor: env.Extractor,
		Pool:      env.Pool,
	}

	if cfg.Mail.SMTP.Host != "" {
		sender, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.SMTP.Host,
			Port:     cfg.Mail.SMTP.Port,
			Username: cfg.Mail.SMTP.Username,
			Password: cfg.Mail.SMTP.Password,
			TLS:      cfg.Mail.SMTP.TLS,
			Timeout:  config.Secs(cfg.Mail.SMTP.TimeoutSecs),
		})
		if err != nil {
			zap.L().Warn("smtp sender not available, inquiries disabled", zap.Error(err))
		} else {
			deps.Sender = sender
		}
	}

	if cfg.Mail.IMAP.Host != "" {
		inbox, err := mail.NewIMAPInbox(mail.IMAPConfig{
			Host:     cfg.Mail.IMAP.Host,
			Port:     cfg.Mail.IMAP.Port,
			Username: cfg.Mail.IMAP.Username,
			Password: cfg.Mail.IMAP.Password,
			Mailbox:  cfg.Mail.IMAP.Mailbox,
			Insecure: cfg.Mail.IMAP.Insecure,
			Timeout:  config.Secs(cfg.Mail.IMAP.TimeoutSecs),
		})
		if err != nil {
			zap.L().Warn("imap inbox not available, reply monitoring disabled", zap.Error(err))
		} else {
			deps.Inbox = inbox
		}
	}

	return inquiry.NewCorrelator(deps, inquiry.Config{
		FromName:       cfg.Mail.FromName,
		FromAddress:    cfg.Mail.FromAddress,
		MaxAge:         time.Duration(cfg.Inquiry.MaxAgeHours) * time.Hour,
		ExtractTimeout: config.Secs(cfg.Discovery.LLMTimeoutSecs),
	})
}

// initBooking adds the booking service on its own single-purpose pool.
func initBooking(env *appEnv) {
	env.bookingPool = jobs.NewPool(cfg.Booking.Workers, cfg.Booking.Workers*4)
	env.chrome = booking.NewChromeRunner(booking.ChromeConfig{
		UserAgent:      cfg.Booking.UserAgent,
		SuccessTimeout: config.Secs(cfg.Booking.SuccessTimeoutSecs),
		Headless:       cfg.Booking.Headless,
	})
	env.Bookings = booking.NewService(env.bookingPool,
		booking.StaticCardIssuer{Card: booking.TestCard},
		env.chrome,
		config.Secs(cfg.Booking.TimeoutSecs),
	)
}

// countBreakerTrip is the breakers' OnTrip hook. The breaker logs its own
// trips, so the hook only counts them.
func countBreakerTrip(name string, _ time.Time) {
	metrics.IncBreakerTrip(name)
}
