package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MbinOrg/mbin-sub001/activitypub"
	"github.com/MbinOrg/mbin-sub001/cache"
	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/MbinOrg/mbin-sub001/queue"
	"github.com/MbinOrg/mbin-sub001/util"
	"github.com/MbinOrg/mbin-sub001/web"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
)

// App represents the main application with all its servers and workers
type App struct {
	config    *util.AppConfig
	db        *db.DB
	cache     activitypub.DocumentCache
	redis     *cache.Redis
	publisher *queue.Publisher
	pool      *queue.Pool
	delivery  *activitypub.DeliveryWorker
	server    *web.Server
	done      chan os.Signal
}

// New creates a new App instance with the given configuration
func New(conf *util.AppConfig) (*App, error) {
	if conf.Conf.SslDomain == "" {
		return nil, errors.New("sslDomain must be set")
	}
	if len(conf.Conf.Kafka.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker must be set")
	}
	return &App{
		config: conf,
		cache:  cache.Nop{},
		done:   make(chan os.Signal, 1),
	}, nil
}

// Initialize opens the database and connects every component to its
// collaborators.
func (a *App) Initialize(ctx context.Context) error {
	conf := a.config.Conf

	db.Configure(conf.DatabasePath)
	a.db = db.GetDB()
	log.Println("Database migrations complete")

	if err := a.ensureFallbackMagazine(ctx); err != nil {
		return fmt.Errorf("failed to prepare fallback magazine: %w", err)
	}

	if conf.Redis.Addr != "" {
		r, err := cache.NewRedis(ctx, conf.Redis.Addr, conf.Redis.Password, conf.Redis.DB)
		if err != nil {
			return err
		}
		log.Printf("Caching remote documents in redis at %s", conf.Redis.Addr)
		a.redis = r
		a.cache = r
	} else {
		log.Println("No redis address configured, remote documents are not cached")
	}

	store := activitypub.NewDBStore(a.db)
	fetcher := activitypub.NewHTTPFetcher(activitypub.FetcherConfig{
		Client:       activitypub.NewSafeHTTPClient(a.config.FetchTimeout()),
		Cache:        a.cache,
		CacheTTL:     a.config.CacheTTL(),
		LocalDomain:  conf.SslDomain,
		RatePerHost:  conf.FetchRatePerHost,
		BurstPerHost: conf.FetchBurstPerHost,
	})
	resolver := activitypub.NewResolver(store, fetcher, conf.SslDomain, a.config.ActorTTL(), time.Now)

	inbox := activitypub.NewInbox(store, resolver, fetcher, activitypub.InboxConfig{
		LocalDomain:      conf.SslDomain,
		FallbackMagazine: conf.FallbackMagazine,
		MaxReplyDepth:    conf.MaxReplyDepth,
	})

	a.delivery = activitypub.NewDeliveryWorker(store, activitypub.DeliveryConfig{
		LocalDomain: conf.SslDomain,
		Interval:    time.Duration(conf.DeliveryIntervalSeconds) * time.Second,
		BatchSize:   conf.DeliveryBatchSize,
	})

	a.publisher = queue.NewPublisher(conf.Kafka.Brokers)
	readers := queue.NewKafkaReaders(queue.ReaderConfig{
		Brokers: conf.Kafka.Brokers,
		Topic:   conf.Kafka.InboxTopic,
		GroupID: conf.Kafka.GroupID,
		Workers: conf.Kafka.Workers,
	})
	a.pool = queue.NewPool(readers, inbox,
		queue.WithRetry(conf.Kafka.MaxAttempts,
			time.Duration(conf.Kafka.BackoffBaseMs)*time.Millisecond,
			time.Duration(conf.Kafka.BackoffMaxMs)*time.Millisecond),
		queue.WithDeadLetter(a.publisher, conf.Kafka.DeadLetterTopic),
	)

	a.server = web.NewServer(a.config, web.ServerConfig{
		DB:        a.db,
		Resolver:  resolver,
		Publisher: a.publisher,
		Topic:     conf.Kafka.InboxTopic,
	})
	return nil
}

// ensureFallbackMagazine creates the magazine that receives content addressed
// to no known magazine, and upgrades a legacy PKCS#1 key on an existing one.
func (a *App) ensureFallbackMagazine(ctx context.Context) error {
	name := a.config.Conf.FallbackMagazine
	if name == "" {
		return nil
	}

	return a.db.InTx(ctx, func(tx *db.Tx) error {
		mag, err := tx.ReadLocalActor(domain.ActorMagazine, name)
		if errors.Is(err, domain.ErrNotFound) {
			keys, err := util.GeneratePemKeypair()
			if err != nil {
				return err
			}
			log.Printf("Creating fallback magazine %s", name)
			return tx.CreateActor(&domain.Actor{
				Id:            uuid.New(),
				Kind:          domain.ActorMagazine,
				Name:          name,
				DisplayName:   name,
				PublicKeyPem:  keys.Public,
				PrivateKeyPem: keys.Private,
				CreatedAt:     time.Now(),
			})
		}
		if err != nil {
			return err
		}

		converted, err := util.ConvertPrivateKeyToPKCS8(mag.PrivateKeyPem)
		if err != nil {
			return fmt.Errorf("invalid key on magazine %s: %w", name, err)
		}
		if converted == mag.PrivateKeyPem {
			return nil
		}
		log.Printf("Converting key of magazine %s to PKCS#8", name)
		mag.PrivateKeyPem = converted
		return tx.UpdateActor(mag)
	})
}

// Start runs the HTTP server, the inbox consumers and the delivery worker
// and blocks until a shutdown signal is received
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := a.server.Serve(ctx); err != nil {
			fail(fmt.Errorf("HTTP server error: %w", err))
		}
	}()
	go func() {
		defer wg.Done()
		log.Printf("Consuming %s with %d workers", a.config.Conf.Kafka.InboxTopic, a.config.Conf.Kafka.Workers)
		a.pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := a.delivery.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fail(fmt.Errorf("delivery worker error: %w", err))
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("Failed to notify systemd: %v", err)
	} else if ok {
		log.Println("Notified systemd of readiness")
	}

	select {
	case <-a.done:
		log.Println("Shutdown signal received")
	case <-ctx.Done():
	}
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	wg.Wait()

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown releases the connections held by the application
func (a *App) Shutdown() error {
	log.Println("Closing connections...")

	var errs []error
	if err := a.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("consumers: %w", err))
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Println("All components stopped")
	return nil
}
