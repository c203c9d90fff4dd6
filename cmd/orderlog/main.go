package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/orderlog/internal/config"
	orderApp "github.com/davicafu/orderlog/internal/order/application"
	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	orderEvents "github.com/davicafu/orderlog/internal/order/infra/inbound/events"
	orderHttp "github.com/davicafu/orderlog/internal/order/infra/inbound/http"
	orderAnalytics "github.com/davicafu/orderlog/internal/order/infra/outbound/analytics/clickhouse"
	orderMemory "github.com/davicafu/orderlog/internal/order/infra/outbound/db/memory"
	orderMongo "github.com/davicafu/orderlog/internal/order/infra/outbound/db/mongodb"
	orderPostgres "github.com/davicafu/orderlog/internal/order/infra/outbound/db/postgres"
	orderSQLite "github.com/davicafu/orderlog/internal/order/infra/outbound/db/sqlite"
	"github.com/davicafu/orderlog/pkg/logger"

	sharedDomain "github.com/davicafu/orderlog/internal/shared/domain"
	infraEvents "github.com/davicafu/orderlog/internal/shared/infra/events"
	sharedBus "github.com/davicafu/orderlog/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/orderlog/internal/shared/infra/platform/cache"
	sharedMongo "github.com/davicafu/orderlog/internal/shared/infra/platform/db/mongodb"
	sharedPostgres "github.com/davicafu/orderlog/internal/shared/infra/platform/db/postgres"
	sharedSQLite "github.com/davicafu/orderlog/internal/shared/infra/platform/db/sqlite"
	infraRelayer "github.com/davicafu/orderlog/internal/shared/infra/relayer"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// storage agrupa el event store elegido y el outbox del que lee el relay.
type storage struct {
	store  orderDomain.EventStore
	outbox sharedDomain.OutboxRepository
	close  func()
}

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(err)
	}
	log := logger.Logger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------- Store ----------------
	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open event store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.close()
	log.Info("✅ Event store listo", zap.String("driver", cfg.StoreDriver))

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		memCache := sharedCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
		defer memCache.Stop()
		cacheInstance = memCache
	} else {
		defer rdb.Close()
		cacheInstance = sharedCache.NewRedisCache(rdb, cfg.CacheTTL)
		log.Info("✅ Redis conectado, cache habilitado")
	}

	// -------------- Analítica --------------
	opts := []orderApp.Option{
		orderApp.WithCommandRetries(cfg.CommandRetries),
		orderApp.WithCacheTTL(cfg.CacheTTL),
	}
	var analytics orderDomain.OrderAnalyticsRepository
	if cfg.ClickHouseAddr != "" {
		repo, err := orderAnalytics.NewOrderAnalyticsRepo(cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseUser, cfg.ClickHousePassword)
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, analítica desactivada", zap.Error(err))
		} else if err := repo.InitSchema(ctx); err != nil {
			log.Warn("⚠️ No se pudo crear el esquema de ClickHouse", zap.Error(err))
			repo.Close()
		} else {
			defer repo.Close()
			analytics = repo
			opts = append(opts, orderApp.WithAnalytics(repo))
			log.Info("✅ ClickHouse conectado, analítica habilitada")
		}
	}

	// --------------- Servicio --------------
	orderService := orderApp.NewOrderService(st.store, cacheInstance, log, opts...)

	// ---------------- Events ---------------
	var publisher sharedBus.EventBus
	orderConsumer := orderEvents.NewOrderConsumer(cacheInstance, analytics, log)

	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos")

		writer := kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		defer writer.Close()
		publisher = infraEvents.NewKafkaPublisher(writer, log)

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			GroupID:  cfg.KafkaGroupID,
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		})
		defer reader.Close()
		infraEvents.NewConsumerAdapter(reader, orderConsumer, log).Start(ctx)
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")

		bus := infraEvents.NewInMemoryEventBus(orderDomain.OrderTopic)
		bus.Consume(ctx, orderConsumer, 100, log)
		publisher = bus
	}

	// ------------ Outbox Worker ------------
	worker := infraRelayer.NewOutboxWorker(st.outbox, publisher, orderDomain.NewEventRegistry(), cfg.OutboxPeriod, cfg.OutboxLimit, log)
	go worker.Start(ctx)

	// ---------------- HTTP ----------------
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	orderHttp.RegisterOrderRoutes(router, orderHttp.NewOrderHandler(orderService))
	orderHttp.RegisterHealthRoute(router)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Apagando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openStorage abre el backend indicado por STORE_DRIVER y crea su esquema.
// El store en memoria hace también de outbox.
func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := orderMemory.NewEventStore()
		return &storage{store: mem, outbox: mem, close: func() {}}, nil

	case config.DriverSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		// SQLite admite un único escritor.
		db.SetMaxOpenConns(1)
		store := orderSQLite.NewEventStoreSQLite(db)
		if err := store.InitSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &storage{store: store, outbox: sharedSQLite.NewOutboxRepoSQLite(db), close: func() { db.Close() }}, nil

	case config.DriverPostgres:
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		store := orderPostgres.NewEventStorePostgres(db)
		if err := store.InitSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &storage{store: store, outbox: sharedPostgres.NewOutboxRepoPostgres(db), close: func() { db.Close() }}, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, err
		}
		disconnect := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn("mongo disconnect failed", zap.Error(err))
			}
		}
		store, err := orderMongo.NewEventStoreMongoDB(ctx, client, cfg.MongoDB)
		if err != nil {
			disconnect()
			return nil, err
		}
		if err := store.InitSchema(ctx); err != nil {
			disconnect()
			return nil, err
		}
		return &storage{store: store, outbox: sharedMongo.NewOutboxRepoMongoDB(client, cfg.MongoDB), close: disconnect}, nil
	}
	return nil, errors.New("unknown store driver: " + cfg.StoreDriver)
}
