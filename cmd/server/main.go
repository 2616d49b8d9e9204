// Command server runs the distribution ledger: identity resolution,
// distribution pools, the balance ledger, withdrawals, and account merges
// behind one HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"redpocket/internal/authtoken"
	identityhandler "redpocket/internal/identity/handler"
	identityservice "redpocket/internal/identity/service"
	identitystore "redpocket/internal/identity/store"
	ledgerservice "redpocket/internal/ledger/service"
	ledgerstore "redpocket/internal/ledger/store"
	mergehandler "redpocket/internal/merge/handler"
	mergeservice "redpocket/internal/merge/service"
	mergestore "redpocket/internal/merge/store"
	"redpocket/internal/platform/config"
	"redpocket/internal/platform/httpserver"
	"redpocket/internal/platform/logger"
	"redpocket/internal/platform/metrics"
	platformredis "redpocket/internal/platform/redis"
	poolhandler "redpocket/internal/pool/handler"
	poolservice "redpocket/internal/pool/service"
	poolstore "redpocket/internal/pool/store"
	httptransport "redpocket/internal/transport/http"
	withdrawalhandler "redpocket/internal/withdrawal/handler"
	withdrawalservice "redpocket/internal/withdrawal/service"
	"redpocket/internal/withdrawal/settlement"
	withdrawalstore "redpocket/internal/withdrawal/store"
	id "redpocket/pkg/domain"
	audit "redpocket/pkg/platform/audit"
	auditpublisher "redpocket/pkg/platform/audit/publisher"
	auditmemory "redpocket/pkg/platform/audit/store/memory"
	auditpostgres "redpocket/pkg/platform/audit/store/postgres"
	auditworker "redpocket/pkg/platform/audit/worker"
	txcontext "redpocket/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// stores bundles the persistence layer so run can swap postgres for memory
// with one switch on DATABASE_URL.
type stores struct {
	accounts interface {
		identityservice.AccountStore
		mergeservice.IdentityStore
	}
	balances interface {
		ledgerservice.BalanceStore
		mergeservice.BalanceStore
	}
	pools interface {
		poolservice.PoolStore
		mergeservice.ClaimStore
	}
	withdrawals withdrawalservice.SweepStore
	merges      mergeservice.MergeStore
	audit       audit.Store
	runner      txcontext.Runner
	health      func(ctx context.Context) error
}

func buildStores(cfg config.Server) (*stores, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return &stores{
			accounts:    identitystore.NewInMemory(),
			balances:    ledgerstore.NewInMemory(),
			pools:       poolstore.NewInMemory(),
			withdrawals: withdrawalstore.NewInMemory(),
			merges:      mergestore.NewInMemory(),
			audit:       auditmemory.NewInMemoryStore(),
			runner:      txcontext.NewNoop(),
			health:      func(context.Context) error { return nil },
		}, nil, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, nil, err
	}

	return &stores{
		accounts:    identitystore.NewPostgres(db),
		balances:    ledgerstore.NewPostgres(db),
		pools:       poolstore.NewPostgres(db),
		withdrawals: withdrawalstore.NewPostgres(db),
		merges:      mergestore.NewPostgres(db),
		audit:       auditpostgres.New(db),
		runner:      txcontext.NewSQL(db),
		health:      db.PingContext,
	}, db, nil
}

func run(cfg config.Server, log *slog.Logger) error {
	st, db, err := buildStores(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	m := metrics.New()

	auditor := auditpublisher.NewPublisher(st.audit, auditpublisher.WithAsyncBuffer(1024))
	defer auditor.Close()

	deriver, err := identityservice.NewCounterfactualDeriver(cfg.Wallet.FactoryAddress, cfg.Wallet.InitCodeHash)
	if err != nil {
		return err
	}

	resolver := identityservice.NewResolver(st.accounts, deriver,
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(auditor),
		identityservice.WithMetrics(m))

	ledger := ledgerservice.New(st.balances)

	pools := poolservice.New(st.pools, ledger,
		poolservice.WithLogger(log),
		poolservice.WithAuditPublisher(auditor),
		poolservice.WithMetrics(m),
		poolservice.WithTxRunner(st.runner))

	withdrawals := withdrawalservice.New(st.withdrawals, ledger,
		withdrawalservice.WithLogger(log),
		withdrawalservice.WithAuditPublisher(auditor),
		withdrawalservice.WithMetrics(m),
		withdrawalservice.WithQueueSize(cfg.Withdrawal.QueueSize))

	health := map[string]func(ctx context.Context) error{
		"store": st.health,
	}

	emitter, natsConn, err := buildEmitter(cfg, log)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Close()
		health["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	}

	processor := withdrawalservice.NewProcessor(withdrawals, emitter,
		withdrawalservice.WithWorkers(cfg.Withdrawal.Workers),
		withdrawalservice.WithProcessingTimeout(cfg.Withdrawal.ProcessingTimeout),
		withdrawalservice.WithSweepInterval(cfg.Withdrawal.SweepInterval))

	codes, redisClient, err := buildCodeStore(cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	merges := mergeservice.New(st.merges, codes, st.accounts, st.pools, st.balances, st.runner,
		mergeservice.WithLogger(log),
		mergeservice.WithAuditPublisher(auditor),
		mergeservice.WithMetrics(m),
		mergeservice.WithCodeTTL(cfg.Merge.CodeTTL),
		mergeservice.WithCodeDelivery(logDelivery{log: log}))

	tokens := authtoken.NewService(cfg.JWTSigningKey)

	identityH := identityhandler.New(resolver, ledger, log)
	poolH := poolhandler.New(pools, resolver, log)
	withdrawalH := withdrawalhandler.New(withdrawals, log)
	mergeH := mergehandler.New(merges, log)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Validator: tokens,
		Authed: []httptransport.Registrar{
			identityH, poolH, withdrawalH, mergeH,
		},
		Public: []httptransport.PublicRegistrar{
			identityH, poolH, withdrawalH,
		},
		HealthChecks: health,
	})
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := processor.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if db != nil && len(cfg.KafkaBrokers) > 0 {
		worker, err := auditworker.NewOutboxWorker(db, cfg.KafkaBrokers, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			err := worker.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func buildEmitter(cfg config.Server, log *slog.Logger) (settlement.Emitter, *nats.Conn, error) {
	if cfg.NATSURL == "" {
		log.Warn("NATS_URL not set; settlement instructions stay in memory")
		return settlement.NewMemoryEmitter(), nil, nil
	}
	conn, err := nats.Connect(cfg.NATSURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, nil, err
	}
	emitter, err := settlement.NewNATSEmitter(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return emitter, conn, nil
}

func buildCodeStore(cfg config.Server) (mergeservice.CodeStore, *platformredis.Client, error) {
	if cfg.RedisURL == "" {
		return mergestore.NewMemoryCodeStore(), nil, nil
	}
	client, err := platformredis.New(config.RedisFromEnv())
	if err != nil {
		return nil, nil, err
	}
	return mergestore.NewRedisCodeStore(client), client, nil
}

// logDelivery is the development code delivery: it writes the verification
// code to the log. Production deployments plug a platform DM sender here.
type logDelivery struct {
	log *slog.Logger
}

func (d logDelivery) Deliver(_ context.Context, accountID id.AccountID, code string) error {
	d.log.Info("merge verification code issued", "account_id", accountID.String(), "code", code)
	return nil
}
