package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/auth"
	"github.com/victornm/livequiz/internal/catalog"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/scheduler"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	HTTP struct {
		Port int32
		// Origins are the browser origins allowed besides the server's own, "*" allows any.
		Origins []string
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level string
	}

	Auth struct {
		Secret string
		TTL    time.Duration
	}

	Engine struct {
		Countdown         time.Duration
		MaxActiveSessions int
		MaxAutoStart      int
	}

	Catalog struct {
		TTL time.Duration
	}

	Redis struct {
		Leaderboard RedisConfig
		Pubsub      RedisConfig
	}

	Postgres struct {
		Catalog PostgresConfig
		Score   PostgresConfig
	}
}

// DefaultConfig is overridden by the config file and the environment.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Log.Level = "info"
	c.Auth.TTL = time.Hour
	c.Engine.Countdown = session.DefaultCountdown
	c.Engine.MaxActiveSessions = session.DefaultMaxActiveSessions
	c.Engine.MaxAutoStart = session.DefaultMaxAutoStart
	c.Catalog.TTL = 5 * time.Minute
	c.Redis.Leaderboard = RedisConfig{Addrs: []string{"localhost:6379"}, Prefix: "livequiz"}
	c.Redis.Pubsub = RedisConfig{Addrs: []string{"localhost:6379"}, Prefix: "livequiz"}
	c.Postgres.Catalog = PostgresConfig{Addr: "localhost:5432", User: "postgres", Name: "livequiz"}
	c.Postgres.Score = PostgresConfig{Addr: "localhost:5432", User: "postgres", Name: "livequiz"}
	return c
}

// Validate rejects configs the server must not start with.
func (c Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret: %w", auth.ErrEmptySecret)
	}

	return nil
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			catalog *pgxpool.Pool
			score   *pgxpool.Pool
		}
	}

	service struct {
		catalog     *catalog.Cache
		auth        *auth.Service
		session     *session.Service
		score       *score.Service
		leaderboard *leaderboard.Service
	}

	api    *api.API
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("server: invalid config: %w", err)
	}

	s := &Server{c: c}

	if err := telemetry.InitLogger(os.Stdout, c.Log.Level); err != nil {
		return nil, fmt.Errorf("server: init logger: %w", err)
	}

	s.eb = event.NewBus()
	telemetry.NewMetrics(prometheus.DefaultRegisterer, s.eb)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, c RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	s.infra.postgres.catalog, err = ConnectPostgres(s.c.Postgres.Catalog)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	s.infra.postgres.score, err = ConnectPostgres(s.c.Postgres.Score)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	return nil
}

// ConnectPostgres opens a pool and checks that the database answers.
func ConnectPostgres(c PostgresConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

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

func (s *Server) initService() (err error) {
	s.service.catalog = catalog.NewCache(catalog.CacheConfig{
		Loader: catalog.NewPostgresLoader(s.infra.postgres.catalog),
		TTL:    s.c.Catalog.TTL,
	})

	s.service.auth, err = auth.NewService(auth.Config{
		Secret:  s.c.Auth.Secret,
		TTL:     s.c.Auth.TTL,
		Quizzes: s.service.catalog,
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.score,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Session ids keep growing across restarts, the archive is keyed by them.
	lastID, err := s.service.score.LastSessionID(ctx)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	s.service.session = session.NewService(session.Config{
		EventBus:          s.eb,
		Scheduler:         scheduler.New(scheduler.Config{}),
		Countdown:         s.c.Engine.Countdown,
		MaxActiveSessions: s.c.Engine.MaxActiveSessions,
		MaxAutoStart:      s.c.Engine.MaxAutoStart,
		LastSessionID:     lastID,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), api.RequestID(), api.AccessLog(), api.CORS(s.c.HTTP.Origins))

	s.api = api.New(api.Config{
		EventBus:     s.eb,
		Session:      s.service.session,
		Catalog:      s.service.catalog,
		Auth:         s.service.auth,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		Origins:      s.c.HTTP.Origins,
	})
	s.api.Register(e)

	s.grpc, s.health = telemetry.NewGRPCServer()

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Start serves HTTP and gRPC until one of them fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		return fmt.Errorf("server: grpc listen: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, "server: gRPC listening", "port", s.c.GRPC.Port)
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, "server: HTTP listening", "port", s.c.HTTP.Port)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: http: %w", err)
		}
		return nil
	})

	telemetry.SetServing(s.health, true)
	return eg.Wait()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	telemetry.SetServing(s.health, false)
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.api.Shutdown()
	s.service.session.Stop()
	s.eb.Stop()

	s.infra.postgres.catalog.Close()
	s.infra.postgres.score.Close()
	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
