package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"offramp_go/internal/api"
	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/engine"
	"offramp_go/internal/infra"
	"offramp_go/internal/infra/broker"
	"offramp_go/internal/infra/evm"
	"offramp_go/internal/infra/limiter"
	"offramp_go/internal/infra/storage"
	"offramp_go/internal/service"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Clock     clock.Clock
	Store     domain.Store
	Publisher domain.EventPublisher
	Events    *engine.Dispatcher

	Rates     *service.RateProvider
	Orders    *service.OrderStore
	Offramp   *service.Offramp
	Flow      *service.BankDetailFlow
	Submitter *service.Submitter
	Poller    *service.StatusPoller
	Expiry    *service.ExpiryJob
	Wallet    domain.Wallet
	Logos     *infra.LogoCache

	closers []func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Clock: clock.NewSystem()}
}

// Initialize loads configuration and wires every component. Nothing is
// started until Run.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping offramp...", slog.String("version", cfg.App.Version))

	// 3. Storage
	if err := b.openStore(ctx); err != nil {
		return err
	}
	slog.Info("✅ Storage initialized", slog.String("driver", cfg.Storage.Driver))

	// 4. Event broker and dispatcher
	b.Publisher = b.openPublisher()
	b.Events = engine.NewDispatcher(0, b.Publisher)

	// 5. Services
	verifyLimiter, err := b.openLimiter(ctx)
	if err != nil {
		return err
	}

	b.Rates = service.NewRateProvider(b.rateSource(), b.Clock, cfg.Rates.FiatCurrency,
		service.WithRateTTL(cfg.Rates.TTL),
		service.WithPollInterval(cfg.Rates.PollInterval),
	)
	for _, a := range domain.Assets {
		b.Rates.Track(a.Asset, a.Chain)
	}

	b.Orders = service.NewOrderStore(b.Store, b.Clock, service.WithEventSink(b.Events))
	locks := service.NewLockManager(b.Store, b.Clock, service.WithLockWindow(cfg.Lock.Window))
	b.Offramp = service.NewOfframp(b.Rates, locks, b.Orders, service.Pricing{
		FiatCurrency:      cfg.Rates.FiatCurrency,
		Fees:              cfg.Quote.Fees,
		Limits:            cfg.Quote.Limits,
		SettlementAddress: cfg.SettlementAddressFor,
	})
	b.Flow = service.NewBankDetailFlow(b.Orders, b.Store, b.resolver(), verifyLimiter, b.Clock)
	b.Expiry = service.NewExpiryJob(b.Orders, cfg.Jobs.ExpirySchedule)

	// 6. Chains and wallet
	if err := b.openChains(ctx); err != nil {
		return err
	}

	// 7. Bank logo cache
	logos, err := infra.NewLogoCache(cfg.Logos.Dir)
	if err != nil {
		slog.Warn("Bank logos disabled", slog.Any("error", err))
	} else {
		b.Logos = logos
	}

	slog.Info("✅ Services wired")
	return nil
}

func (b *Bootstrap) openStore(ctx context.Context) error {
	cfg := b.Config
	switch cfg.Storage.Driver {
	case "memory":
		b.Store = storage.NewMemory()
	case "sqlite":
		s, err := storage.NewSQLite(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Store = s
	case "postgres":
		s, err := storage.NewPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		b.Store = s
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	b.onClose(func() { b.Store.Close() })
	return nil
}

// openPublisher connects to RabbitMQ when configured. A broker outage at
// startup degrades to log-only publishing.
func (b *Bootstrap) openPublisher() domain.EventPublisher {
	logPublisher := &broker.LogPublisher{Logger: slog.Default().With(slog.String("module", "broker"))}
	if b.Config.Broker.URL == "" {
		return logPublisher
	}
	p, err := broker.NewPublisher(b.Config.Broker.URL, b.Config.Broker.Exchange)
	if err != nil {
		slog.Warn("⚠️ RabbitMQ unavailable, events will only be logged", slog.Any("error", err))
		return logPublisher
	}
	b.onClose(p.Close)
	slog.Info("✅ RabbitMQ publisher connected", slog.String("exchange", b.Config.Broker.Exchange))
	return p
}

func (b *Bootstrap) openLimiter(ctx context.Context) (domain.AttemptLimiter, error) {
	v := b.Config.Verification
	if b.Config.Redis.URL == "" {
		return limiter.NewMemory(b.Clock, v.MaxAttempts, v.Window), nil
	}
	opts, err := redis.ParseURL(b.Config.Redis.URL)
	if err != nil {
		return nil, &domain.ConfigError{Field: "redis.url", Err: err}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	b.onClose(func() { client.Close() })
	return limiter.NewRedis(client, "offramp:verify:", v.MaxAttempts, v.Window), nil
}

func (b *Bootstrap) rateSource() domain.RateSource {
	if b.Config.Rates.URL != "" {
		return infra.NewHTTPRateSource(b.Config.Rates.URL)
	}
	slog.Info("Using static rates", slog.Int("assets", len(b.Config.Rates.Static)))
	return infra.NewStaticRateSource(b.Config.Rates.Static)
}

func (b *Bootstrap) resolver() domain.AccountResolver {
	v := b.Config.Verification
	if v.ResolverURL == "" {
		slog.Warn("⚠️ No account resolver configured, using mock lookups")
		return infra.MockAccountResolver{}
	}
	return infra.NewHTTPAccountResolver(v.ResolverURL, v.APIKey)
}

// openChains dials every configured RPC and builds the settlement pipeline on top.
func (b *Bootstrap) openChains(ctx context.Context) error {
	cfg := b.Config
	clients, err := evm.Dial(ctx, cfg.EVM.RPCURLs)
	if err != nil {
		return err
	}
	b.onClose(func() {
		for _, c := range clients {
			c.Close()
		}
	})

	var (
		builders []domain.PaymentBuilder
		senders  = make(map[string]evm.TxSender, len(clients))
		readers  = make(map[string]evm.ReceiptReader, len(clients))
	)
	for chain, client := range clients {
		builder, err := evm.NewERC20Builder(chain, client)
		if err != nil {
			return err
		}
		builders = append(builders, builder)
		senders[chain] = client
		readers[chain] = client
		slog.Info("✅ RPC connected", slog.String("chain", chain))
	}

	b.Submitter = service.NewSubmitter(b.Orders, evm.NewBroadcaster(senders), b.Clock, builders...)
	b.Poller = service.NewStatusPoller(b.Orders, b.Store, evm.NewReceiptStatusSource(readers), cfg.Jobs.StatusPoll)

	if cfg.EVM.PrivateKey != "" {
		w, err := evm.NewLocalWallet(cfg.EVM.PrivateKey)
		if err != nil {
			return &domain.ConfigError{Field: "evm.private_key", Err: err}
		}
		if err := w.Connect(ctx); err != nil {
			return err
		}
		b.Wallet = w
		slog.Info("✅ Wallet connected", slog.String("address", w.PublicKey()))
	}
	return nil
}

// Services returns the API's view of the wired components.
func (b *Bootstrap) Services() api.Services {
	return api.Services{
		Offramp:   b.Offramp,
		Orders:    b.Orders,
		Rates:     b.Rates,
		Flow:      b.Flow,
		Submitter: b.Submitter,
		Poller:    b.Poller,
		Events:    b.Events,
		Wallet:    b.Wallet,
		Logos:     b.Logos,
		Metrics:   infra.GlobalMetrics,
		Clock:     b.Clock,
	}
}

// SyncBankLogos downloads missing bank logos in the background.
func (b *Bootstrap) SyncBankLogos(ctx context.Context) {
	if b.Logos == nil {
		return
	}
	slog.Info("🔄 Syncing bank logos...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent downloads
	var (
		mu     sync.Mutex
		failed int
	)

	for _, bank := range domain.NigerianBanks {
		if bank.LogoURL == "" {
			continue
		}
		wg.Add(1)
		go func(bank domain.Bank) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			if _, err := b.Logos.Fetch(ctx, bank); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("Failed to fetch bank logo", slog.String("bank", bank.Code), slog.Any("error", err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(bank)
	}

	wg.Wait()
	slog.Info("✨ Bank logo sync completed", slog.Int("failed", failed))
}

// Run starts the background components and the HTTP server and blocks until
// ctx is cancelled or one of them fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	cfg := b.Config
	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(b.Services()).Router(api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := b.Rates.Start(ctx); err != nil {
		return fmt.Errorf("start rate provider: %w", err)
	}
	defer b.Rates.Stop()

	if err := b.Expiry.Start(); err != nil {
		return fmt.Errorf("start expiry job: %w", err)
	}
	defer b.Expiry.Stop()

	if err := b.Poller.Resume(ctx); err != nil {
		slog.Error("Failed to resume settlement watches", slog.Any("error", err))
	}
	defer b.Poller.Stop()

	g, ctx := errgroup.WithContext(ctx)

	// The dispatcher drains on its own once ctx ends.
	g.Go(func() error {
		b.Events.Run(ctx)
		return nil
	})

	g.Go(func() error {
		b.SyncBankLogos(ctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("✨ HTTP server listening", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("👋 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (b *Bootstrap) onClose(fn func()) {
	b.closers = append(b.closers, fn)
}

// Close releases connections in reverse order of opening.
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
