// Command server starts the Bookshelf catalog HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bookshelf/internal/api"
	"bookshelf/internal/auth"
	"bookshelf/internal/blob"
	"bookshelf/internal/books"
	"bookshelf/internal/observability/logging"
	"bookshelf/internal/server"
	"bookshelf/internal/serverutil"
	"bookshelf/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to the JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	sessionDriver := flag.String("session-store", "", "session store driver (memory, postgres, or redis)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionRedisAddrs := flag.String("session-redis-addrs", "", "comma separated Redis addresses for the session store")
	sessionRedisUsername := flag.String("session-redis-username", "", "Redis username for the session store")
	sessionRedisPassword := flag.String("session-redis-password", "", "Redis password for the session store")
	sessionRedisMaster := flag.String("session-redis-sentinel-master", "", "Redis sentinel master name for the session store")
	sessionRedisTLS := flag.Bool("session-redis-tls", false, "enable TLS for the Redis session store")
	sessionRedisTLSCA := flag.String("session-redis-tls-ca", "", "path to Redis TLS CA certificate")
	sessionTTL := flag.Duration("session-ttl", 0, "absolute session lifetime")
	sessionIdle := flag.Duration("session-idle-timeout", 0, "idle session timeout")
	sessionPurge := flag.Duration("session-purge-interval", time.Hour, "interval between expired-session sweeps")
	blobDriver := flag.String("blob-driver", "", "attachment store driver (local or s3)")
	blobDir := flag.String("blob-dir", "", "directory for local attachment storage")
	blobBaseURL := flag.String("blob-base-url", "", "public base URL for locally stored attachments")
	s3Endpoint := flag.String("s3-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	s3Region := flag.String("s3-region", "", "object storage region")
	s3AccessKey := flag.String("s3-access-key", "", "object storage access key")
	s3SecretKey := flag.String("s3-secret-key", "", "object storage secret key")
	s3Bucket := flag.String("s3-bucket", "", "object storage bucket name")
	s3Prefix := flag.String("s3-prefix", "", "object storage key prefix for cover images")
	s3PublicURL := flag.String("s3-public-url", "", "public endpoint used for cover image URLs")
	s3PathStyle := flag.Bool("s3-path-style", false, "use path-style object storage addressing")
	allowSelfSignup := flag.Bool("allow-self-signup", false, "allow unauthenticated visitors to register accounts")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	loginLimit := flag.Int("rate-login-limit", 10, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", time.Minute, "window for counting login attempts")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	maxUpload := flag.Int64("max-upload-bytes", 0, "maximum accepted cover image size in bytes")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("BOOKSHELF_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("BOOKSHELF_LOG_FORMAT")),
	})
	slog.SetDefault(logger)

	allowSignup := *allowSelfSignup || envBool(logger, "BOOKSHELF_ALLOW_SELF_SIGNUP")

	repo, closeRepo, err := openRepository(logger, repositoryOptions{
		driver:   firstNonEmpty(*storageDriver, os.Getenv("BOOKSHELF_STORAGE_DRIVER")),
		dataPath: firstNonEmpty(*dataPath, os.Getenv("BOOKSHELF_DATA_PATH")),
		dsn:      firstNonEmpty(*postgresDSN, os.Getenv("BOOKSHELF_POSTGRES_DSN")),
		maxConns: *postgresMaxConns,
		minConns: *postgresMinConns,
	})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	sessionStore, closeSessions, err := openSessionStore(sessionStoreOptions{
		driver:      firstNonEmpty(*sessionDriver, os.Getenv("BOOKSHELF_SESSION_STORE")),
		dsn:         firstNonEmpty(*sessionPostgresDSN, os.Getenv("BOOKSHELF_SESSION_POSTGRES_DSN")),
		redisAddrs:  firstNonEmpty(*sessionRedisAddrs, os.Getenv("BOOKSHELF_SESSION_REDIS_ADDRS")),
		redisUser:   *sessionRedisUsername,
		redisPass:   firstNonEmpty(*sessionRedisPassword, os.Getenv("BOOKSHELF_SESSION_REDIS_PASSWORD")),
		redisMaster: *sessionRedisMaster,
		redisTLS:    *sessionRedisTLS,
		redisTLSCA:  *sessionRedisTLSCA,
	})
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	sessionOpts := []auth.Option{auth.WithStore(sessionStore)}
	if *sessionTTL > 0 {
		sessionOpts = append(sessionOpts, auth.WithAbsoluteTTL(*sessionTTL))
	}
	if *sessionIdle > 0 {
		sessionOpts = append(sessionOpts, auth.WithIdleTimeout(*sessionIdle))
	}
	sessions := auth.NewSessionManager(sessionOpts...)

	blobs, err := openBlobStore(blobStoreOptions{
		driver:    firstNonEmpty(*blobDriver, os.Getenv("BOOKSHELF_BLOB_DRIVER")),
		dir:       firstNonEmpty(*blobDir, os.Getenv("BOOKSHELF_BLOB_DIR")),
		baseURL:   *blobBaseURL,
		endpoint:  firstNonEmpty(*s3Endpoint, os.Getenv("BOOKSHELF_S3_ENDPOINT")),
		region:    firstNonEmpty(*s3Region, os.Getenv("BOOKSHELF_S3_REGION")),
		accessKey: firstNonEmpty(*s3AccessKey, os.Getenv("BOOKSHELF_S3_ACCESS_KEY")),
		secretKey: firstNonEmpty(*s3SecretKey, os.Getenv("BOOKSHELF_S3_SECRET_KEY")),
		bucket:    firstNonEmpty(*s3Bucket, os.Getenv("BOOKSHELF_S3_BUCKET")),
		prefix:    *s3Prefix,
		publicURL: *s3PublicURL,
		pathStyle: *s3PathStyle,
	})
	if err != nil {
		logger.Error("failed to open attachment store", "error", err)
		os.Exit(1)
	}

	catalog := books.NewService(repo, blobs, logging.WithComponent(logger, "books"))

	handler := api.New(repo, sessions, catalog, blobs, logging.WithComponent(logger, "api"))
	handler.AllowSelfSignup = allowSignup
	if *sessionTTL > 0 {
		handler.SessionTTL = *sessionTTL
	}
	if *maxUpload > 0 {
		handler.MaxUploadBytes = *maxUpload
	}

	listenAddr := firstNonEmpty(*addr, os.Getenv("BOOKSHELF_ADDR"), ":8080")
	httpServer := server.New(handler, server.Config{
		Addr:            listenAddr,
		Logger:          logging.WithComponent(logger, "http"),
		LoginRateLimit:  *loginLimit,
		LoginRateWindow: *loginWindow,
		TrustProxyIP:    *trustForwarded,
	})

	var tlsConfig *serverutil.TLSConfig
	if *tlsCert != "" || *tlsKey != "" {
		if *tlsCert == "" || *tlsKey == "" {
			logger.Error("both --tls-cert and --tls-key are required for TLS")
			os.Exit(1)
		}
		tlsConfig = &serverutil.TLSConfig{CertFile: *tlsCert, KeyFile: *tlsKey}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", "addr", listenAddr, "tls", tlsConfig != nil)
		return serverutil.Run(groupCtx, serverutil.Config{
			Server:          httpServer,
			TLS:             tlsConfig,
			ShutdownTimeout: 10 * time.Second,
		})
	})
	group.Go(func() error {
		stopPurger := startSessionPurgeWorker(groupCtx, logging.WithComponent(logger, "sessions"), sessions, *sessionPurge, nil)
		<-groupCtx.Done()
		stopPurger()
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type repositoryOptions struct {
	driver   string
	dataPath string
	dsn      string
	maxConns int
	minConns int
}

func openRepository(logger *slog.Logger, opts repositoryOptions) (storage.Repository, func(), error) {
	driver := strings.ToLower(strings.TrimSpace(opts.driver))
	if driver == "" {
		if opts.dsn != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	switch driver {
	case "json":
		path := opts.dataPath
		if path == "" {
			path = "store.json"
		}
		store, err := storage.NewStorage(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:      opts.dsn,
			MaxConns: int32(opts.maxConns),
			MinConns: int32(opts.minConns),
			AppName:  "bookshelf",
		})
		if err != nil {
			return nil, nil, err
		}
		closeRepo := func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := repo.Close(closeCtx); err != nil {
				logger.Warn("postgres close timed out", "error", err)
			}
		}
		return repo, closeRepo, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

type sessionStoreOptions struct {
	driver      string
	dsn         string
	redisAddrs  string
	redisUser   string
	redisPass   string
	redisMaster string
	redisTLS    bool
	redisTLSCA  string
}

func openSessionStore(opts sessionStoreOptions) (auth.SessionStore, func(), error) {
	driver := strings.ToLower(strings.TrimSpace(opts.driver))
	switch driver {
	case "", "memory":
		return auth.NewMemoryStore(), func() {}, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		store, err := auth.NewPostgresStore(ctx, opts.dsn)
		if err != nil {
			return nil, nil, err
		}
		closeStore := func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = store.Close(closeCtx)
		}
		return store, closeStore, nil
	case "redis":
		addrs := splitAndTrim(opts.redisAddrs)
		store, err := auth.NewRedisStore(auth.RedisConfig{
			Addrs:      addrs,
			Username:   opts.redisUser,
			Password:   opts.redisPass,
			MasterName: opts.redisMaster,
			UseTLS:     opts.redisTLS,
			TLSCAFile:  opts.redisTLSCA,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store driver %q", driver)
	}
}

type blobStoreOptions struct {
	driver    string
	dir       string
	baseURL   string
	endpoint  string
	region    string
	accessKey string
	secretKey string
	bucket    string
	prefix    string
	publicURL string
	pathStyle bool
}

func openBlobStore(opts blobStoreOptions) (blob.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.driver))
	if driver == "" {
		if opts.bucket != "" {
			driver = "s3"
		} else {
			driver = "local"
		}
	}
	switch driver {
	case "local":
		dir := opts.dir
		if dir == "" {
			dir = "covers"
		}
		return blob.NewLocalStore(dir, opts.baseURL)
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:      opts.endpoint,
			Region:        opts.region,
			AccessKey:     opts.accessKey,
			SecretKey:     opts.secretKey,
			Bucket:        opts.bucket,
			Prefix:        opts.prefix,
			PublicBaseURL: opts.publicURL,
			UsePathStyle:  opts.pathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown attachment store driver %q", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func envBool(logger *slog.Logger, name string) bool {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		logger.Warn("invalid boolean environment variable", "name", name, "value", raw)
		return false
	}
	return value
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
