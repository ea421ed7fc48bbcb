package murmur

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/nasermirzaei89/env"
	"github.com/nasermirzaei89/murmur/db/sqlite3"
	"github.com/nasermirzaei89/murmur/discuss"
	"github.com/nasermirzaei89/murmur/server"
	"github.com/nasermirzaei89/murmur/storage/docbucket"
	"github.com/nasermirzaei89/murmur/storage/memory"
	"github.com/nasermirzaei89/murmur/storage/natskv"
	"github.com/nasermirzaei89/murmur/storage/rediskv"
	"github.com/nasermirzaei89/murmur/storage/s3bucket"
	"github.com/nasermirzaei89/murmur/web"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverSQLite    = "sqlite"
	StorageDriverMemory    = "memory"
	StorageDriverRedis     = "redis"
	StorageDriverMinIO     = "minio"
	StorageDriverNATS      = "nats"
	StorageDriverDocBucket = "docbucket"

	DefaultStorageDriver = StorageDriverSQLite

	ExportFormatJSON = "json"
	ExportFormatYAML = "yaml"
)

type UnknownStorageDriverError struct {
	Driver string
}

func (err UnknownStorageDriverError) Error() string {
	return fmt.Sprintf("unknown storage driver '%s'", err.Driver)
}

type UnknownExportFormatError struct {
	Format string
}

func (err UnknownExportFormatError) Error() string {
	return fmt.Sprintf("unknown export format '%s'", err.Format)
}

// Storage is the bucket repository selected by STORAGE_DRIVER together with
// whatever connection backs it.
type Storage struct {
	Driver  string
	Buckets discuss.BucketRepository
	db      *sql.DB
	closers []func() error
}

func OpenStorage(ctx context.Context) (*Storage, error) {
	storage := &Storage{Driver: env.GetString("STORAGE_DRIVER", DefaultStorageDriver)}

	switch storage.Driver {
	case StorageDriverSQLite:
		db, err := openSQLite(ctx)
		if err != nil {
			return nil, err
		}

		err = sqlite3.MigrateUp(ctx, db)
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}

		storage.db = db
		storage.closers = append(storage.closers, db.Close)
		storage.Buckets = sqlite3.NewBucketRepository(db)
	case StorageDriverMemory:
		storage.Buckets = memory.NewBucketRepository()
	case StorageDriverRedis:
		client, err := rediskv.NewClient(ctx, env.GetString("REDIS_URL", "redis://localhost:6379/0"))
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}

		storage.closers = append(storage.closers, client.Close)
		storage.Buckets = rediskv.NewBucketRepository(client, env.GetString("REDIS_KEY_PREFIX", rediskv.DefaultKeyPrefix))
	case StorageDriverMinIO:
		cfg := s3bucket.Config{
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetString("MINIO_ACCESS_KEY", ""),
			SecretKey: env.GetString("MINIO_SECRET_KEY", ""),
			Bucket:    env.GetString("MINIO_BUCKET", "murmur"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Region:    env.GetString("MINIO_REGION", ""),
		}

		client, err := s3bucket.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}

		storage.Buckets = s3bucket.NewBucketRepository(client, cfg.Bucket)
	case StorageDriverNATS:
		kv, closeConn, err := natskv.Open(
			ctx,
			env.GetString("NATS_URL", "nats://localhost:4222"),
			env.GetString("NATS_KV_BUCKET", natskv.DefaultBucket),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open nats key value bucket: %w", err)
		}

		storage.closers = append(storage.closers, func() error {
			closeConn()

			return nil
		})
		storage.Buckets = natskv.NewBucketRepository(kv)
	case StorageDriverDocBucket:
		timeout, err := time.ParseDuration(env.GetString("DOCBUCKET_TIMEOUT", docbucket.DefaultTimeout.String()))
		if err != nil {
			return nil, fmt.Errorf("failed to parse docbucket timeout: %w", err)
		}

		repo, err := docbucket.NewBucketRepository(docbucket.Config{
			BaseURL:  env.GetString("DOCBUCKET_URL", ""),
			BucketID: env.GetString("DOCBUCKET_ID", ""),
			Token:    env.GetString("DOCBUCKET_TOKEN", ""),
			Timeout:  timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create docbucket repository: %w", err)
		}

		storage.Buckets = repo
	default:
		return nil, &UnknownStorageDriverError{Driver: storage.Driver}
	}

	slog.InfoContext(ctx, "storage opened", "driver", storage.Driver)

	return storage, nil
}

func (s *Storage) Close(ctx context.Context) {
	for _, closeFn := range s.closers {
		err := closeFn()
		if err != nil {
			slog.ErrorContext(ctx, "failed to close storage", "driver", s.Driver, "error", err)
		}
	}
}

func openSQLite(ctx context.Context) (*sql.DB, error) {
	db, err := sqlite3.NewDB(ctx, env.GetString("DB_DSN", "murmur.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return db, nil
}

type App struct {
	server  *server.Server
	handler *web.Handler
	storage *Storage
}

func NewApp(ctx context.Context) (*App, error) {
	storage, err := OpenStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	discussSvc := discuss.NewService(storage.Buckets)

	srv := newServer()

	sessionName := env.GetString("SESSION_NAME", "murmur")
	cookieStore := sessions.NewCookieStore(keyFromEnv(ctx, "SESSION_KEY"))
	cookieStore.Options.HttpOnly = true
	cookieStore.Options.SameSite = http.SameSiteLaxMode
	cookieStore.Options.Secure = srv.TLS.Enabled

	csrfAuthKey := keyFromEnv(ctx, "CSRF_AUTH_KEY")
	csrfTrustedOrigins := env.GetStringSlice("CSRF_TRUSTED_ORIGINS", []string{})

	httpHandler, err := web.NewHandler(
		discussSvc,
		cookieStore,
		sessionName,
		csrfAuthKey,
		csrfTrustedOrigins,
		!srv.TLS.Enabled,
	)
	if err != nil {
		storage.Close(ctx)

		return nil, fmt.Errorf("failed to create HTTP handler: %w", err)
	}

	app := &App{
		server:  srv,
		handler: httpHandler,
		storage: storage,
	}

	return app, nil
}

func (app *App) Run(ctx context.Context) error {
	// Handle SIGINT (CTRL+C) gracefully.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	defer app.storage.Close(ctx)

	err := app.server.Run(ctx, app.handler)
	if err != nil {
		return fmt.Errorf("failed to run server: %w", err)
	}

	return nil
}

func newServer() *server.Server {
	server := &server.Server{
		Port: env.GetString("PORT", server.DefaultPort),
		Host: env.GetString("HOST", ""),
		TLS: server.ServerTLS{
			Enabled: env.GetBool("TLS_ENABLED", false),
			Mode:    env.GetString("TLS_MODE", server.DefaultTLSMode),
			AutoCert: &server.ServerTLSAutoCert{
				CacheDir: env.GetString("TLS_AUTOCERT_CACHE_DIR", "./cert-cache"),
				Domains:  env.GetStringSlice("TLS_AUTOCERT_DOMAINS", []string{}),
				Email:    env.GetString("TLS_AUTOCERT_EMAIL", ""),
			},
			CertFile: env.GetString("TLS_CERT_FILE", ""),
			KeyFile:  env.GetString("TLS_KEY_FILE", ""),
		},
	}

	return server
}

// keyFromEnv reads a secret key, generating a random one when unset. Random
// keys do not survive restarts and differ between instances.
func keyFromEnv(ctx context.Context, name string) []byte {
	if key := env.GetString(name, ""); key != "" {
		return []byte(key)
	}

	slog.WarnContext(ctx, "secret key not set, using a random one", "name", name)

	return securecookie.GenerateRandomKey(32)
}

func GetLogLevelFromEnv() slog.Level {
	levelStr := env.GetString("LOG_LEVEL", "info")
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("unknown log level, defaulting to info", "level", levelStr)

		return slog.LevelInfo
	}
}

func SetupLogger() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: GetLogLevelFromEnv()})))
}

// MigrateUp and MigrateDown apply the relational schema. They always use the
// sqlite database from DB_DSN, whatever the storage driver.
func MigrateUp(ctx context.Context) error {
	db, err := openSQLite(ctx)
	if err != nil {
		return err
	}

	defer closeDB(ctx, db)

	return sqlite3.MigrateUp(ctx, db)
}

func MigrateDown(ctx context.Context) error {
	db, err := openSQLite(ctx)
	if err != nil {
		return err
	}

	defer closeDB(ctx, db)

	return sqlite3.MigrateDown(db)
}

func closeDB(ctx context.Context, db *sql.DB) {
	err := db.Close()
	if err != nil {
		slog.ErrorContext(ctx, "failed to close database", "error", err)
	}
}

// Export writes the bucket of pageKey from the configured storage.
func Export(ctx context.Context, w io.Writer, pageKey, format string) error {
	if format != ExportFormatJSON && format != ExportFormatYAML {
		return &UnknownExportFormatError{Format: format}
	}

	storage, err := OpenStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	defer storage.Close(ctx)

	bucket, err := discuss.NewService(storage.Buckets).Bucket(ctx, pageKey)
	if err != nil {
		return fmt.Errorf("failed to load bucket: %w", err)
	}

	return WriteBucket(w, bucket, format)
}

func WriteBucket(w io.Writer, bucket *discuss.Bucket, format string) error {
	switch format {
	case ExportFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(bucket)
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
	case ExportFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		err := enc.Encode(bucket)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}

		err = enc.Close()
		if err != nil {
			return fmt.Errorf("failed to close yaml encoder: %w", err)
		}
	default:
		return &UnknownExportFormatError{Format: format}
	}

	return nil
}
