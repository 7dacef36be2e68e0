// Command server wires the invitation gateway: stores, services, handlers,
// and the background audit pipeline. Business logic lives in the internal
// services; main only assembles and supervises them.
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

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"debtgate/internal/audit"
	authstore "debtgate/internal/auth/store"
	authtoken "debtgate/internal/auth/token"
	casestore "debtgate/internal/casefile/store"
	invhandler "debtgate/internal/invite/handler"
	invsvc "debtgate/internal/invite/service"
	invstore "debtgate/internal/invite/store"
	"debtgate/internal/invite/token"
	"debtgate/internal/platform/config"
	"debtgate/internal/platform/crypto"
	"debtgate/internal/platform/httpserver"
	"debtgate/internal/platform/logger"
	"debtgate/internal/platform/metrics"
	"debtgate/internal/platform/middleware"
	platformredis "debtgate/internal/platform/redis"
	portalhandler "debtgate/internal/portal/handler"
	"debtgate/internal/register"
	"debtgate/internal/verify"
	"debtgate/pkg/email"
)

func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	encryptor, err := crypto.NewLocalEncryptorFromBase64(cfg.InviteEncryptionKey)
	if err != nil {
		return err
	}

	m := metrics.New()

	// Audit pipeline: Kafka when brokers are configured, in-process otherwise.
	var sink audit.Sink = audit.NewMemorySink()
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(ctx, cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	}
	auditPublisher := audit.NewPublisher(sink, log)

	invitations, err := invsvc.New(
		invstore.NewPostgres(db),
		casestore.NewPostgres(db),
		token.NewCodec(encryptor),
		cfg.PortalBaseURL,
		invsvc.WithLogger(log),
		invsvc.WithMetrics(m),
		invsvc.WithAuditPublisher(auditPublisher),
	)
	if err != nil {
		return err
	}

	grants, err := verify.NewGrantIssuer([]byte(cfg.JWTSigningKey))
	if err != nil {
		return err
	}
	cases := casestore.NewPostgres(db)
	profiles := authstore.NewPostgresProfiles(db)
	verifier, err := verify.New(invitations, cases, profiles, grants,
		verify.WithLogger(log),
		verify.WithMetrics(m),
		verify.WithAuditPublisher(auditPublisher),
	)
	if err != nil {
		return err
	}

	sessionIssuer, err := authtoken.NewIssuer([]byte(cfg.JWTSigningKey))
	if err != nil {
		return err
	}

	var consumed verify.ConsumedStore = verify.NewMemoryConsumedStore()
	if redisClient != nil {
		consumed = verify.NewRedisConsumedStore(redisClient)
	}

	registrar, err := register.New(register.Deps{
		Invitations: invitations,
		Grants:      grants,
		Consumed:    consumed,
		Users:       authstore.NewPostgresUsers(db),
		Profiles:    profiles,
		Sessions:    authstore.NewPostgresSessions(db),
		Cases:       cases,
		Tx:          newRegisterPostgresTx(db),
		Tokens:      sessionIssuer,
	},
		register.WithLogger(log),
		register.WithMetrics(m),
		register.WithAuditPublisher(auditPublisher),
		register.WithMailer(email.NewLogMailer(log)),
	)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(30 * time.Second))

	invhandler.New(invitations, log, sessionIssuer).Register(router)
	portalhandler.New(invitations, verifier, registrar, log).Register(router)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return auditPublisher.Run(ctx)
	})
	group.Go(func() error {
		log.Info("starting debtgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
