package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
	"github.com/prometheus/client_golang/prometheus"
	red "github.com/redis/go-redis/v9"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/portal-auth/pkg/audit"
	"github.com/tendant/portal-auth/pkg/backupcode"
	"github.com/tendant/portal-auth/pkg/config"
	"github.com/tendant/portal-auth/pkg/events"
	"github.com/tendant/portal-auth/pkg/externalprovider"
	externalapi "github.com/tendant/portal-auth/pkg/externalprovider/api"
	"github.com/tendant/portal-auth/pkg/idle"
	idleapi "github.com/tendant/portal-auth/pkg/idle/api"
	"github.com/tendant/portal-auth/pkg/login"
	loginapi "github.com/tendant/portal-auth/pkg/login/api"
	"github.com/tendant/portal-auth/pkg/loginflow"
	"github.com/tendant/portal-auth/pkg/metrics"
	"github.com/tendant/portal-auth/pkg/notification"
	"github.com/tendant/portal-auth/pkg/otp"
	"github.com/tendant/portal-auth/pkg/ratelimit"
	"github.com/tendant/portal-auth/pkg/secretcodec"
	"github.com/tendant/portal-auth/pkg/session"
	"github.com/tendant/portal-auth/pkg/totp"
	"github.com/tendant/portal-auth/pkg/twofa"
	twofaapi "github.com/tendant/portal-auth/pkg/twofa/api"
	"github.com/tendant/portal-auth/pkg/user"
)

type Config struct {
	DatabaseConfig  config.DatabaseConfig
	AppConfig       app.AppConfig
	SessionConfig   config.SessionConfig
	IdleConfig      config.IdleConfig
	OTPConfig       config.OTPConfig
	RateLimitConfig config.RateLimitConfig
	GoogleConfig    config.GoogleConfig
	EmailConfig     config.EmailConfig
	TwilioConfig    notification.TwilioConfig

	BaseURL       string   `env:"BASE_URL" env-default:"http://localhost:3000"`
	EncryptionKey string   `env:"TOTP_ENCRYPTION_KEY" env-required:"true"`
	TOTPIssuer    string   `env:"TOTP_ISSUER" env-default:"Client Portal"`
	BcryptCost    int      `env:"BCRYPT_COST" env-default:"12"`
	RedisURL      string   `env:"REDIS_URL"`
	RedisPrefix   string   `env:"REDIS_KEY_PREFIX" env-default:"portal-auth"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" env-separator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC_PREFIX" env-default:"portal-auth"`
	KafkaClientID string   `env:"KAFKA_CLIENT_ID" env-default:"portal-auth"`
	SkipMigrate   bool     `env:"SKIP_MIGRATE" env-default:"false"`
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})))

	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Parse()
	config.LoadDotEnv(*envFile)

	cfg := Config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(-1)
	}

	ctx := context.Background()

	// Database
	dbConfig := cfg.DatabaseConfig.ToDbConfig()
	pool, err := dbutils.NewDbPool(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User, "err", err)
		os.Exit(-1)
	}
	defer pool.Close()

	if !cfg.SkipMigrate {
		if err := user.Migrate(cfg.DatabaseConfig.ToDatabaseURL()); err != nil {
			slog.Error("Failed to migrate database", "err", err)
			os.Exit(-1)
		}
	}
	users := user.NewPostgresRepository(pool)

	// Codes, tickets and revoked sessions
	var otpStore otp.Store = otp.NewInMemoryStore()
	var revoker session.Revoker = session.NewInMemoryRevoker()
	if cfg.RedisURL != "" {
		opts, err := red.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("Invalid REDIS_URL", "err", err)
			os.Exit(-1)
		}
		rdb := red.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to reach redis", "err", err)
			os.Exit(-1)
		}
		otpStore = otp.NewRedisStore(rdb, cfg.RedisPrefix)
		revoker = session.NewRedisRevoker(rdb, cfg.RedisPrefix)
	} else {
		slog.Warn("REDIS_URL not set, login codes and revocations are kept in memory")
	}

	// Audit events
	var publisher events.Publisher = events.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopic,
			ClientID:    cfg.KafkaClientID,
		})
		if err != nil {
			slog.Error("Failed to create kafka publisher", "err", err)
			os.Exit(-1)
		}
		defer kafka.Close()
		publisher = kafka
	}

	reg := prometheus.NewRegistry()
	meter, err := metrics.New(reg)
	if err != nil {
		slog.Error("Failed to register metrics", "err", err)
		os.Exit(-1)
	}

	// Notifications
	notifyOpts := []notification.NotificationManagerOption{
		notification.WithDefaultTemplates(),
	}
	if cfg.EmailConfig.ResendAPIKey != "" {
		notifyOpts = append(notifyOpts, notification.WithResend(cfg.EmailConfig.ResendAPIKey, cfg.EmailConfig.From))
	} else {
		var smtp notification.SMTPConfig
		if err := copier.Copy(&smtp, &cfg.EmailConfig); err != nil {
			slog.Error("Failed to copy email config", "err", err)
			os.Exit(-1)
		}
		notifyOpts = append(notifyOpts, notification.WithSMTP(smtp))
	}
	if cfg.TwilioConfig.TwilioAccountSid != "" {
		notifyOpts = append(notifyOpts, notification.WithTwilio(cfg.TwilioConfig))
	}
	notifier, err := notification.NewNotificationManagerWithOptions(cfg.BaseURL, notifyOpts...)
	if err != nil {
		slog.Error("Failed to create notification manager", "err", err)
		os.Exit(-1)
	}

	// MFA building blocks
	codec, err := secretcodec.New(cfg.EncryptionKey)
	if err != nil {
		slog.Error("Invalid TOTP_ENCRYPTION_KEY", "err", err)
		os.Exit(-1)
	}
	engine := totp.NewEngine(codec, totp.WithIssuer(cfg.TOTPIssuer))
	backup := backupcode.NewManager(users)
	otpService := otp.NewService(otpStore, notifier,
		otp.WithCodeTTL(cfg.OTPConfig.ParseCodeTTL()),
		otp.WithTicketTTL(cfg.OTPConfig.ParseTicketTTL()),
		otp.WithMaxAttempts(cfg.OTPConfig.MaxAttempts),
	)

	issuer, err := session.NewIssuer(cfg.SessionConfig.Secret,
		session.WithTTL(cfg.SessionConfig.ParseTTL()),
		session.WithIssuer(cfg.SessionConfig.Issuer),
	)
	if err != nil {
		slog.Error("Invalid SESSION_SECRET", "err", err)
		os.Exit(-1)
	}
	cookies := session.NewCookieSetter(cfg.SessionConfig.CookieSecure)

	authenticator := loginflow.NewAuthenticator(loginflow.ServiceDependencies{
		Users:       users,
		Hasher:      login.NewBcryptHasher(cfg.BcryptCost),
		TOTP:        engine,
		BackupCodes: backup,
		OTP:         otpService,
		Sessions:    issuer,
		Notifier:    notifier,
		Events:      publisher,
		Metrics:     meter,
	})

	twoFaService := twofa.NewTwoFaService(users, codec, engine, backup,
		twofa.WithNotifier(notifier),
		twofa.WithPublisher(publisher),
		twofa.WithIssuer(cfg.TOTPIssuer),
	)

	idleConfig := cfg.IdleConfig.Resolve()
	idleRegistry := idle.NewRegistry(idleapi.NewControllerFactory(idleConfig, revoker, publisher, meter), idle.WithSweepEvery(time.Minute))
	defer idleRegistry.Close()
	idleHandle := idleapi.NewHandle(idleRegistry)

	loginHandle := loginapi.NewHandle(authenticator, revoker, cookies, idleHandle)

	// Routes
	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	server.R.Handle("/metrics", meter.Handler())

	limiter := ratelimit.NewMiddleware(cfg.RateLimitConfig.ToMiddlewareConfig())
	defer limiter.Close()

	server.R.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.RateLimitConfig.Enabled {
				r.Use(limiter.Handler)
			}
			loginHandle.Routes(r)
		})

		if cfg.GoogleConfig.Usable() {
			google, err := externalprovider.NewProvider(externalprovider.GoogleConfig(
				cfg.GoogleConfig.ClientID,
				cfg.GoogleConfig.ClientSecret,
				cfg.GoogleConfig.RedirectURL,
			))
			if err != nil {
				slog.Error("Invalid Google configuration", "err", err)
				os.Exit(-1)
			}
			googleHandle := externalapi.NewHandle(google, authenticator, cookies, cfg.BaseURL, cfg.SessionConfig.CookieSecure)
			r.Route("/google", googleHandle.Routes)
		}

		r.Group(func(r chi.Router) {
			r.Use(session.Authenticate(issuer.JWTAuth(), revoker))
			loginHandle.LogoutRoutes(r)
		})
	})

	server.R.Group(func(r chi.Router) {
		r.Use(session.Authenticate(issuer.JWTAuth(), revoker))
		r.Route("/mfa", func(r chi.Router) {
			r.Use(audit.NewMiddleware(audit.Config{Publisher: publisher}).Handler)
			twofaapi.NewHandle(twoFaService).Routes(r)
		})
		r.Route("/session", idleHandle.Routes)
	})

	slog.Info("Starting portal-auth",
		"redis", cfg.RedisURL != "",
		"kafka", len(cfg.KafkaBrokers) > 0,
		"google", cfg.GoogleConfig.Usable(),
		"idle_warning", idleConfig.Warning,
		"idle_expiry", idleConfig.Expiry,
	)
	server.Run()
}
