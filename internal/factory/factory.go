package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"social-service/internal/bucketing"
	"social-service/internal/client"
	"social-service/internal/config"
	"social-service/internal/encryption"
	"social-service/internal/events"
	"social-service/internal/handler"
	"social-service/internal/hashing"
	"social-service/internal/repository"
	"social-service/internal/repository/clickhouse"
	"social-service/internal/repository/elastic"
	"social-service/internal/repository/memory"
	"social-service/internal/repository/postgres"
	redisrepo "social-service/internal/repository/redis"
	"social-service/internal/repository/scylla"
	"social-service/internal/service"
	"social-service/internal/tls"
	"social-service/internal/util"
)

const indexerGroupID = "social-service-identity-indexer"

// stores groups the repositories selected by configuration.
type stores struct {
	identities    repository.IdentityRepository
	friendships   repository.FriendshipRepository
	verifications repository.VerificationRepository
	messages      repository.MessageRepository
	sessions      repository.SessionStore
	throttle      repository.LoginThrottle
	idempotency   repository.IdempotencyStore
	searchIndex   repository.IdentitySearcher
	audit         repository.SecurityEventRecorder
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	postgresClient   *postgres.Client
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	stores         stores
	publisher      events.Publisher
	consumer       *events.Consumer
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory connects every configured backend and assembles the services.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	f := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.Environment)
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := f.initializeManagers(initCtx); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	if err := f.initializeStores(initCtx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}
	if err := f.initializeEvents(initCtx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize events: %w", err)
	}

	f.serviceFactory = service.NewServiceFactory(service.Dependencies{
		Identities:    f.stores.identities,
		Friendships:   f.stores.friendships,
		Verifications: f.stores.verifications,
		Messages:      f.stores.messages,
		SearchIndex:   f.stores.searchIndex,
		Sessions:      f.stores.sessions,
		Throttle:      f.stores.throttle,
		Audit:         f.stores.audit,
		Publisher:     f.publisher,
		Hasher:        f.hasher,
		EncryptionMgr: f.encryptionManager,
		BucketingMgr:  f.bucketingManager,
		Identity: service.IdentityConfig{
			SessionTTL:       cfg.Session.TTL,
			MaxLoginFailures: cfg.RateLimit.MaxLoginFailures,
			LoginWindow:      cfg.RateLimit.LoginWindow,
			IsReviewer:       cfg.IsBootstrapReviewer,
		},
	}, util.Get())

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("database_driver", cfg.Database.Driver),
		util.String("message_store", cfg.Messaging.Store),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("search_index_enabled", f.esClient != nil),
		util.Bool("clickhouse_enabled", f.clickhouseClient != nil),
	)

	return f, nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	hasher, err := hashing.NewHasher(f.config.Hashing)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		c, err := encryption.NewKMSClient(ctx, f.config.KMS)
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		kmsClient = c
	}
	encryptionManager, err := encryption.NewEncryptionManager(f.config.KMS, kmsClient)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.encryptionManager = encryptionManager
	f.bucketingManager = bucketing.NewBucketingManager(f.config.Bucketing)

	util.Info("Managers initialized successfully",
		util.Int("pepper_version", f.config.Hashing.PepperVersion),
		util.Int("conversation_buckets", f.bucketingManager.ConversationBuckets()),
	)
	return nil
}

// initializeStores wires the relational store first, then the caches and the
// optional backends. Optional backends that fail outside production are
// replaced by in-process fallbacks with a warning.
func (f *Factory) initializeStores(ctx context.Context) error {
	cfg := f.config
	var mem *memory.Store

	switch cfg.Database.Driver {
	case config.DriverMemory:
		mem = memory.NewStore()
		f.stores.identities = mem
		f.stores.friendships = mem
		f.stores.verifications = mem
		f.stores.messages = mem
		util.Warn("Using in-memory relational store; data is lost on restart")
	default:
		pg, err := postgres.NewClient(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		f.postgresClient = pg
		if cfg.Database.MigrateOnStart {
			if err := pg.Migrate(); err != nil {
				return fmt.Errorf("postgres migrate: %w", err)
			}
		}
		f.stores.identities = postgres.NewIdentityRepository(pg.Pool)
		f.stores.friendships = postgres.NewFriendshipRepository(pg.Pool)
		f.stores.verifications = postgres.NewVerificationRepository(pg.Pool)
		f.stores.messages = postgres.NewMessageRepository(pg.Pool)
	}

	if cfg.Messaging.Store == config.MessageStoreScylla {
		sc, err := scylla.NewScyllaClient(cfg.Scylla, cfg.IsProduction())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = sc
		if err := sc.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("scylla schema: %w", err)
		}
		f.stores.messages = scylla.NewMessageRepository(sc, f.bucketingManager)
	}

	if rc, err := client.NewRedisClient(cfg.Redis); err != nil {
		if err := f.optional("redis", err); err != nil {
			return err
		}
		cache := memory.NewCache()
		f.stores.sessions, f.stores.throttle, f.stores.idempotency = cache, cache, cache
	} else {
		f.redisClient = rc
		f.stores.sessions = redisrepo.NewSessionCache(rc)
		f.stores.throttle = redisrepo.NewRateLimitCache(rc)
		f.stores.idempotency = redisrepo.NewIdempotencyCache(rc)
	}

	if cfg.Elasticsearch.Enabled {
		es, err := client.NewElasticsearchClient(cfg.Elasticsearch, !cfg.IsProduction())
		if err == nil {
			index := elastic.NewIdentityIndex(es, cfg.Elasticsearch.Index)
			if err = index.EnsureIndex(ctx); err == nil {
				f.esClient = es
				f.stores.searchIndex = index
			}
		}
		if err != nil {
			if err := f.optional("elasticsearch", err); err != nil {
				return err
			}
		}
	}

	if cfg.Clickhouse.Enabled {
		ch, err := client.NewClickHouseClient(cfg.Clickhouse, cfg.IsProduction())
		if err == nil {
			audit := clickhouse.NewSecurityEventRepository(ch)
			if err = audit.EnsureSchema(ctx); err == nil {
				f.clickhouseClient = ch
				f.stores.audit = audit
			} else {
				ch.Close()
			}
		}
		if err != nil {
			if err := f.optional("clickhouse", err); err != nil {
				return err
			}
		}
	}
	if f.stores.audit == nil && mem != nil {
		f.stores.audit = memory.NewAuditLog()
	}

	return nil
}

// initializeEvents picks the publisher. With Kafka the search index is fed by
// a consumer; without it the indexer runs in-process.
func (f *Factory) initializeEvents(ctx context.Context) error {
	var handlers []events.Handler
	if index, ok := f.stores.searchIndex.(*elastic.IdentityIndex); ok {
		handlers = append(handlers, elastic.NewIndexer(f.stores.identities, index))
	}

	if f.config.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(f.config.Kafka)
		if err == nil {
			err = producer.HealthCheck(ctx)
			if err != nil {
				producer.Close()
			}
		}
		if err != nil {
			if err := f.optional("kafka", err); err != nil {
				return err
			}
		} else {
			f.kafkaProducer = producer
			kafkaPublisher := events.NewKafkaPublisher(producer, f.config.Kafka.TopicPrefix)
			f.publisher = kafkaPublisher
			if len(handlers) > 0 {
				f.kafkaConsumer = client.NewKafkaConsumer(f.config.Kafka,
					[]string{kafkaPublisher.Topic(events.IdentityRegistered)}, indexerGroupID)
				f.consumer = events.NewConsumer(f.kafkaConsumer, handlers...)
			}
			return nil
		}
	}

	f.publisher = events.NewInProcessPublisher(handlers...)
	return nil
}

// optional decides whether a failed optional backend aborts startup.
func (f *Factory) optional(name string, err error) error {
	if f.config.IsProduction() {
		return fmt.Errorf("%s: %w", name, err)
	}
	util.Warn("Optional backend unavailable, continuing without it",
		util.String("backend", name), util.ErrorField(err))
	return nil
}

// RunConsumers blocks running the event consumers until ctx is cancelled.
// It returns immediately when there is nothing to consume.
func (f *Factory) RunConsumers(ctx context.Context) error {
	if f.consumer == nil {
		return nil
	}
	return f.consumer.Run(ctx)
}

// RouterConfig returns the HTTP settings for handler.NewRouter.
func (f *Factory) RouterConfig() handler.RouterConfig {
	return handler.RouterConfig{
		AllowedOrigins: f.config.Server.AllowedOrigins,
		RequireHTTPS:   f.config.Server.EnableTLS && f.config.IsProduction(),
		RequestTimeout: f.config.Server.WriteTimeout,
		Idempotency:    f.stores.idempotency,
		IdempotencyTTL: f.config.RateLimit.IdempotencyTTL,
		HealthCheck:    f.HealthCheck,
	}
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if err := f.serviceFactory.IdentityService().HealthCheck(ctx); err != nil {
		healthErrors["database"] = err
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) Close() error {
	var errs []error
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.publisher != nil {
			if err := f.publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("publisher: %w", err))
			}
		}

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("clickhouse: %w", err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}

		if f.postgresClient != nil {
			f.postgresClient.Close()
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		for _, err := range errs {
			util.Error("Shutdown error", util.ErrorField(err))
		}
		util.Info("Factory shutdown completed")
	})
	return errors.Join(errs...)
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}
