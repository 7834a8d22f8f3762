package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/keyledger/internal/adapters/events"
	"github.com/atvirokodosprendimai/keyledger/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/keyledger/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/keyledger/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/usecase"
	"github.com/atvirokodosprendimai/keyledger/internal/metrics"
	"github.com/atvirokodosprendimai/keyledger/migrations"
)

const shutdownTimeout = 10 * time.Second

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// App is the assembled service: database, use cases, outbox delivery and
// the HTTP server.
type App struct {
	cfg Config
	log logrus.FieldLogger

	db         *gormsqlite.DB
	keys       *usecase.KeyService
	cards      *usecase.KeyCardService
	audit      *usecase.AuditService
	dispatcher *usecase.OutboxDispatcher
	registry   *prometheus.Registry
	server     *http.Server

	closer resourceCloser
}

// New opens and migrates the database and wires every component. Nothing
// runs until Run is called.
func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (*App, error) {
	keyCodes, err := domain.NewCodeValidator(cfg.KeyCodePattern)
	if err != nil {
		return nil, fmt.Errorf("key code pattern: %w", err)
	}
	cardCodes, err := domain.NewCodeValidator(cfg.KeyCardCodePattern)
	if err != nil {
		return nil, fmt.Errorf("key card code pattern: %w", err)
	}
	log.WithFields(logrus.Fields{
		"key_code_pattern":      keyCodes.String(),
		"key_card_code_pattern": cardCodes.String(),
	}).Info("code patterns")

	db, err := gormsqlite.Open(cfg.DBPath, gormsqlite.Options{Log: log.WithField("component", "gorm")})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a := &App{cfg: cfg, log: log, db: db}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	store := sqliteadapter.NewStore(db)
	outbox := sqliteadapter.NewOutboxRepository(db)
	a.keys = usecase.NewKeyService(store, keyCodes, usecase.NewCustodyLedger(nil), usecase.KeyPolicy{RequireEvidence: cfg.RequireGiveEvidence}, m)
	a.cards = usecase.NewKeyCardService(store, cardCodes, m)
	a.audit = usecase.NewAuditService(sqliteadapter.NewAuditTrailRepository(db))

	publisher, closers, err := a.publishers()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.dispatcher = usecase.NewOutboxDispatcher(outbox, publisher, log, usecase.OutboxDispatcherOptions{
		Interval:  cfg.Outbox.Interval,
		BatchSize: cfg.Outbox.BatchSize,
		MaxRetry:  cfg.Outbox.MaxRetry,
	})
	m.RegisterDispatcher(a.dispatcher)
	m.RegisterBacklog(outbox.Backlog)

	handler, err := httpapi.NewHandler(a.keys, a.cards, a.audit, log,
		httpapi.WithMetrics(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
		httpapi.WithReadiness(db.Ping),
	)
	if err != nil {
		_ = resourceCloser{closers: append(closers, db)}.Close()
		return nil, fmt.Errorf("http handler: %w", err)
	}
	a.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// dispatcher first so it stops before its publishers and the database
	a.closer = resourceCloser{closers: append(append([]io.Closer{a.dispatcher}, closers...), db)}
	return a, nil
}

// publishers builds the outbox fan-out. The log publisher is always present;
// webhook and Kafka join when configured.
func (a *App) publishers() (*events.FanOut, []io.Closer, error) {
	fan := events.NewFanOut().Add("log", events.NewLogPublisher(a.log))
	var closers []io.Closer

	if a.cfg.Webhook.URL != "" {
		fan.Add("webhook", events.NewWebhookPublisher(a.cfg.Webhook.URL, a.cfg.Webhook.Secret, a.cfg.Webhook.Timeout))
		a.log.WithField("url", a.cfg.Webhook.URL).Info("webhook delivery enabled")
	}
	if len(a.cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(events.KafkaOptions{
			Brokers:     a.cfg.Kafka.Brokers,
			TopicPrefix: a.cfg.Kafka.TopicPrefix,
			ClientID:    a.cfg.Kafka.ClientID,
		})
		if err != nil {
			return nil, nil, err
		}
		fan.Add("kafka", kafka)
		closers = append(closers, kafka)
		a.log.WithField("brokers", a.cfg.Kafka.Brokers).Info("kafka delivery enabled")
	}
	return fan, closers, nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP and drains the outbox until ctx is cancelled or the
// server fails, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.WithField("addr", a.cfg.Addr).Info("listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.dispatcher.Start(gctx)
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return a.dispatcher.Close()
	})

	err := g.Wait()
	a.log.Info("stopped")
	return err
}

// Export writes the organization's events oldest first, one JSON document
// per line.
func (a *App) Export(ctx context.Context, organization, aggregateType string, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	err := usecase.ReplayOrganizationEvents(ctx, a.audit, usecase.NewEventCodec(), organization, aggregateType, 200, func(ev usecase.ReplayEvent) error {
		count++
		return enc.Encode(ev)
	})
	return count, err
}

func (a *App) Close() error {
	return a.closer.Close()
}
