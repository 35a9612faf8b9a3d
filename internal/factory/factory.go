package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"funnel-service/internal/analytics"
	"funnel-service/internal/client"
	"funnel-service/internal/config"
	"funnel-service/internal/encryption"
	"funnel-service/internal/flow"
	"funnel-service/internal/monitor"
	"funnel-service/internal/otpapi"
	"funnel-service/internal/ratelimit"
	"funnel-service/internal/session"
	"funnel-service/internal/tls"
	"funnel-service/internal/token"
	"funnel-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Domain components
	cipher       *encryption.Cipher
	sealer       *encryption.Sealer
	limiter      *ratelimit.Limiter
	sessionStore *session.Store
	tokenManager *token.Manager
	securityLog  *monitor.Monitor
	forwarder    *analytics.Forwarder
	otpClient    *otpapi.Client
	controller   *flow.Controller

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("redis_enabled", cfg.Redis.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if f.config.Redis.Enabled {
		if redisClient, err := client.NewRedisClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = redisClient
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	// Kafka
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeComponents wires the funnel domain objects on top of the
// clients.
func (f *Factory) initializeComponents() error {
	var sink monitor.Sink
	if f.clickhouseClient != nil {
		sink = monitor.NewClickHouseSink(f.clickhouseClient, f.config.Clickhouse.Table)
	}
	f.securityLog = monitor.New(sink)

	f.cipher = encryption.NewCipher()
	if f.config.Encryption.Key != "" {
		if err := f.cipher.SetConfig(encryption.KeyConfig{
			Key: f.config.Encryption.Key,
			IV:  f.config.Encryption.IV,
		}); err != nil {
			return fmt.Errorf("encryption config: %w", err)
		}

		sealer, err := encryption.NewSealer(f.config.Encryption.Key)
		if err != nil {
			return fmt.Errorf("sealer config: %w", err)
		}
		f.sealer = sealer
	} else {
		util.Warn("No encryption key configured - OTP dispatch disabled until one is provided")
	}

	var store token.Store
	if f.redisClient != nil {
		store = token.NewRedisStore(f.redisClient, "funnel")
	} else {
		store = token.NewMemoryStore()
		util.Warn("Redis unavailable - falling back to in-memory token store")
	}
	f.tokenManager = token.NewManager(store, f.sealer, f.securityLog, f.config.Token.TTL)

	f.limiter = ratelimit.New(
		f.config.RateLimit.MaxRequests,
		f.config.RateLimit.Window,
		f.config.RateLimit.BlockDuration,
	)
	f.sessionStore = session.NewStore(f.config.Session.Timeout)

	var publisher analytics.Publisher
	if f.kafkaProducer != nil {
		publisher = f.kafkaProducer
	}
	f.forwarder = analytics.NewForwarder(publisher, f.config.Kafka.Topic, f.config.Analytics)

	f.otpClient = otpapi.NewClient(f.config.OTPAPI)

	f.controller = flow.NewController(
		f.limiter,
		f.sessionStore,
		f.cipher,
		f.tokenManager,
		f.otpClient,
		f.forwarder,
		f.securityLog,
	)

	util.Info("Funnel components initialized",
		util.Bool("encryption_configured", f.cipher.IsConfigured()),
		util.Bool("redis_token_store", f.redisClient != nil),
		util.Bool("audit_sink_enabled", f.clickhouseClient != nil),
	)
	return nil
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.config.Redis.Enabled {
		if f.redisClient != nil {
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				healthErrors["redis"] = err
			}
		} else {
			healthErrors["redis"] = fmt.Errorf("redis client not initialized")
		}
	}

	if f.config.Clickhouse.Enabled {
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				healthErrors["clickhouse"] = err
			}
		} else {
			healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.securityLog != nil {
			if err := f.securityLog.Close(); err != nil {
				util.Error("Failed to flush security monitor", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.cipher != nil {
			f.cipher.ClearConfig()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Controller() *flow.Controller {
	return f.controller
}

func (f *Factory) TokenManager() *token.Manager {
	return f.tokenManager
}

func (f *Factory) Forwarder() *analytics.Forwarder {
	return f.forwarder
}

func (f *Factory) SecurityLog() *monitor.Monitor {
	return f.securityLog
}
