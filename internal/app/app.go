// Package app builds the backends selected by configuration and wires the
// core components on top of them. All binaries start from Open.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/blob"
	"faceattend/internal/cache"
	"faceattend/internal/config"
	"faceattend/internal/enroll"
	"faceattend/internal/faceclient"
	"faceattend/internal/handler"
	"faceattend/internal/logger"
	"faceattend/internal/match"
	"faceattend/internal/notify"
	"faceattend/internal/quality"
	"faceattend/internal/queue"
	"faceattend/internal/store"
	"faceattend/internal/store/memory"
	"faceattend/internal/store/migrations"
)

// App holds the opened backends.
type App struct {
	Config   config.App
	Log      logrus.FieldLogger
	DB       *store.DB
	Redis    *store.Redis
	Sessions store.Sessions
	Cache    cache.Cache
	Blobs    enroll.BlobStore
	Queue    queue.Queue
	Provider *faceclient.Client

	closers []func() error
}

// Open connects every backend named by cfg. On error, whatever was already
// opened is closed.
func Open(ctx context.Context, cfg config.App, log logrus.FieldLogger) (*App, error) {
	a := &App{Config: cfg, Log: logger.OrStandard(log)}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config
	if err := a.openStore(ctx); err != nil {
		return err
	}
	if cfg.CacheBackend == "redis" || cfg.QueueBackend == "redis" {
		a.Redis = store.NewRedis(cfg.RedisAddr)
		a.closers = append(a.closers, a.Redis.Close)
	}
	if err := a.openCache(); err != nil {
		return err
	}
	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return err
	}
	a.Blobs = blobs
	if err := a.openQueue(); err != nil {
		return err
	}
	a.Provider = faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceTimeout)
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case "memory":
		a.Log.Warn("using in-memory store, data is lost on restart")
		a.Sessions = memory.New()
		return nil
	case "postgres", "":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", a.Config.StoreBackend)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := store.NewDB(pingCtx, a.Config.DatabaseURL, store.PoolConfig{
		MaxOpen: a.Config.DBMaxOpen,
		MaxIdle: a.Config.DBMaxIdle,
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("connect database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	if a.Config.MigrateOnStart {
		if err := migrations.MigrateUp(db.Client); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.Log.Info("database migrations applied")
	}
	a.Sessions = store.NewPostgres(db.Client)
	return nil
}

func (a *App) openCache() error {
	switch a.Config.CacheBackend {
	case "redis":
		a.Cache = cache.NewRedis(a.Redis.Client, a.Config.CacheTTL, a.Log)
	case "memory":
		a.Cache = cache.NewMemory(a.Config.CacheTTL, nil)
	case "none", "":
		a.Cache = cache.Nop{}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", a.Config.CacheBackend)
	}
	return nil
}

func (a *App) openBlobs(ctx context.Context) (enroll.BlobStore, error) {
	cfg := a.Config
	switch cfg.BlobBackend {
	case "local", "":
		return blob.NewLocal(cfg.UploadDir)
	case "cloudinary":
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
			return nil, errors.New("cloudinary requires CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
		a.Log.WithField("cloud", cfg.CloudinaryCloudName).Info("cloudinary configured")
		return blob.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder), nil
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}
}

func (a *App) openQueue() error {
	cfg := a.Config
	switch cfg.QueueBackend {
	case "memory", "":
		a.Queue = queue.NewInMemory(64)
	case "redis":
		a.Queue = queue.NewRedisQueue(a.Redis.Client, queue.DefaultRedisKey, a.Log)
	case "kafka":
		a.Queue = queue.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup, a.Log)
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	a.closers = append(a.closers, a.Queue.Close)
	return nil
}

// Engine builds the match engine with the configured ranker.
func (a *App) Engine() *match.Engine {
	opts := []match.Option{
		match.WithThreshold(a.Config.MatchThreshold),
		match.WithCacheTTL(a.Config.CacheTTL),
		match.WithLogger(a.Log),
	}
	if strings.EqualFold(a.Config.MatchIndex, "hnsw") {
		opts = append(opts, match.WithRanker(match.NewHNSW(a.Config.MatchIndexCandidates, a.Log)))
	}
	return match.NewEngine(a.Cache, opts...)
}

// Workflow builds the enrollment workflow.
func (a *App) Workflow() *enroll.Workflow {
	return enroll.NewWorkflow(a.Provider, a.Blobs,
		enroll.WithAuthorizer(auth.RoleAuthorizer{}),
		enroll.WithGate(quality.NewGate(a.Config.QualityMinScore)),
		enroll.WithCache(a.Cache),
		enroll.WithLogger(a.Log))
}

// LocalQueue reports whether the queue lives inside this process, in which
// case no separate worker can drain it.
func (a *App) LocalQueue() bool {
	b := a.Config.QueueBackend
	return b == "" || b == "memory"
}

// Ledger builds the attendance ledger. It publishes to the queue unless the
// queue is in-process and nothing here consumes it.
func (a *App) Ledger() *attendance.Ledger {
	opts := []attendance.Option{
		attendance.WithLocation(a.Config.Location()),
		attendance.WithLogger(a.Log),
	}
	if !a.LocalQueue() || a.Config.EmailEnabled {
		opts = append(opts, attendance.WithPublisher(a.Queue))
	}
	return attendance.NewLedger(opts...)
}

// Notifier builds the email notifier, or nil when email is disabled.
func (a *App) Notifier() *notify.Notifier {
	cfg := a.Config
	if !cfg.EmailEnabled {
		return nil
	}
	sender := notify.NewSMTP(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	return notify.NewNotifier(sender, cfg.AdminEmail, cfg.Location(), a.Log)
}

// Checks reports the health of the opened backends.
func (a *App) Checks() map[string]handler.Check {
	checks := map[string]handler.Check{}
	if a.DB != nil {
		checks["db"] = a.DB.Healthy
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Healthy
	}
	if !a.Config.FaceSkip {
		checks["face_service"] = func(ctx context.Context) bool { return a.Provider.Health(ctx) == nil }
	}
	return checks
}

// Handler wires the HTTP layer.
func (a *App) Handler() *handler.Handler {
	return handler.New(handler.Deps{
		Sessions: a.Sessions,
		Workflow: a.Workflow(),
		Engine:   a.Engine(),
		Ledger:   a.Ledger(),
		Provider: a.Provider,
		Cache:    a.Cache,
		TempDir:  a.Config.TempDir,
		Checks:   a.Checks(),
		Log:      a.Log,
	})
}

// Close releases backends in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
