package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/victornm/trivia/internal/api"
	"github.com/victornm/trivia/internal/auth"
	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/question"
	"github.com/victornm/trivia/internal/storage"
	"github.com/victornm/trivia/internal/storage/cache"
	"github.com/victornm/trivia/internal/storage/memory"
	mysqlstore "github.com/victornm/trivia/internal/storage/mysql"
	"github.com/victornm/trivia/internal/storage/postgres"
	"github.com/victornm/trivia/internal/telemetry"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log telemetry.LogConfig

	Question struct {
		PageSize int
	}

	Storage struct {
		// Driver is one of memory, postgres, mysql.
		Driver string

		Postgres struct {
			Addr string
			User string
			Pass string
			Name string
		}

		MySQL struct {
			DSN string
		}
	}

	Redis struct {
		// Cache is optional, categories are read from storage when Addrs is empty.
		Cache struct {
			Addrs  []string
			Pass   string
			Prefix string
			TTL    time.Duration
		}

		// Pubsub is optional, question notifications are not published when Addrs is empty.
		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Auth auth.Config

	RateLimit struct {
		Quiz api.RateLimit
	}
}

// DefaultConfig runs everything in process with no external dependency.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Question.PageSize = question.DefaultPageSize
	c.Storage.Driver = DriverMemory
	c.Redis.Cache.Prefix = "trivia"
	c.Redis.Cache.TTL = 10 * time.Minute
	c.Redis.Pubsub.Prefix = "trivia"
	c.RateLimit.Quiz = api.RateLimit{RPS: 5, Burst: 10}
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			cache  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		store storage.Store
	}

	service struct {
		question *question.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		s.closeRedis(context.Background())
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initStorage(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		if len(addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, errors.Join(err, r.Close())
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, errors.Join(err, r.Close())
		}

		return r, nil
	}

	var err error
	s.infra.redis.cache, err = connect(s.c.Redis.Cache.Addrs, s.c.Redis.Cache.Pass)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initStorage() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch s.c.Storage.Driver {
	case "", DriverMemory:
		s.infra.store = memory.New(domain.DefaultCategories)

	case DriverPostgres:
		db, err := s.connectPostgres(ctx)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}

		st := postgres.New(db)
		if err := st.Migrate(ctx, domain.DefaultCategories); err != nil {
			st.Close()
			return fmt.Errorf("postgres: migrate: %w", err)
		}
		s.infra.store = st

	case DriverMySQL:
		db, err := gorm.Open(gormmysql.Open(s.c.Storage.MySQL.DSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}

		st := mysqlstore.New(db)
		if err := st.Migrate(ctx, domain.DefaultCategories); err != nil {
			st.Close()
			return fmt.Errorf("mysql: migrate: %w", err)
		}
		s.infra.store = st

	default:
		return fmt.Errorf("unknown driver %q", s.c.Storage.Driver)
	}

	if s.infra.redis.cache != nil {
		cs := cache.New(cache.Config{
			Store:  s.infra.store,
			Redis:  s.infra.redis.cache,
			Prefix: s.c.Redis.Cache.Prefix,
			TTL:    s.c.Redis.Cache.TTL,
		})

		// Migrations may have changed the categories since the list was cached.
		if err := cs.Invalidate(ctx); err != nil {
			cs.Close()
			return fmt.Errorf("cache: invalidate: %w", err)
		}
		s.infra.store = cs
	}

	return nil
}

func (s *Server) connectPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	c := s.c.Storage.Postgres

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (s *Server) initService() {
	s.service.question = question.NewService(question.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
		PageSize: s.c.Question.PageSize,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPMiddleware())

	c := api.Config{
		Engine:    e,
		Question:  s.service.question,
		Verifier:  auth.NewVerifier(s.c.Auth),
		QuizLimit: s.c.RateLimit.Quiz,
	}
	if s.infra.redis.pubsub != nil {
		c.EventBus = s.eb
		c.Redis = s.infra.redis.pubsub
		c.PubsubPrefix = s.c.Redis.Pubsub.Prefix
	}
	api.New(c)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port),
			"storage", s.c.Storage.Driver,
			"auth", s.c.Auth.Secret != "",
		)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	if c, ok := s.infra.store.(storage.Closer); ok {
		c.Close()
	}
	s.closeRedis(ctx)

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) closeRedis(ctx context.Context) {
	for _, r := range []redis.UniversalClient{s.infra.redis.cache, s.infra.redis.pubsub} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
}
