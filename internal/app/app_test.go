package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/cache"
	"faceattend/internal/config"
	"faceattend/internal/model"
	"faceattend/internal/queue"
	"faceattend/internal/store/memory"
)

func memoryConfig(t *testing.T) config.App {
	return config.App{
		StoreBackend:    "memory",
		CacheBackend:    "memory",
		BlobBackend:     "local",
		QueueBackend:    "memory",
		UploadDir:       t.TempDir(),
		TempDir:         t.TempDir(),
		FaceSkip:        true,
		MatchThreshold:  0.6,
		MatchIndex:      "hnsw",
		QualityMinScore: 0.5,
		Timezone:        "UTC",
	}
}

func TestOpen_Memory(t *testing.T) {
	log, _ := test.NewNullLogger()
	a, err := Open(context.Background(), memoryConfig(t), log)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.Store{}, a.Sessions)
	assert.IsType(t, &cache.Memory{}, a.Cache)
	assert.IsType(t, &queue.InMemory{}, a.Queue)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.Empty(t, a.Checks())
	assert.Nil(t, a.Notifier())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	a.Handler().Register(r, func(c *gin.Context) { c.Next() })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpen_UnknownBackends(t *testing.T) {
	log, _ := test.NewNullLogger()
	for _, mutate := range []func(*config.App){
		func(c *config.App) { c.StoreBackend = "mongo" },
		func(c *config.App) { c.CacheBackend = "memcached" },
		func(c *config.App) { c.BlobBackend = "ftp" },
		func(c *config.App) { c.QueueBackend = "nats" },
		func(c *config.App) { c.BlobBackend = "cloudinary" },
		func(c *config.App) { c.BlobBackend = "s3" },
	} {
		cfg := memoryConfig(t)
		mutate(&cfg)
		a, err := Open(context.Background(), cfg, log)
		assert.Error(t, err)
		assert.Nil(t, a)
	}
}

func TestNotifier_Enabled(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.EmailEnabled = true
	cfg.SMTPHost = "localhost"
	cfg.SMTPPort = 2525
	a, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Notifier())
}

func markMany(t *testing.T, a *App, n int) {
	t.Helper()
	ctx := context.Background()
	uow := a.Sessions.Session()
	ledger := a.Ledger()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			key := fmt.Sprintf("E%03d", i)
			ident, _, err := uow.Identities().CreateIfAbsent(ctx, model.Identity{ID: "id-" + key, ExternalKey: key, Name: key, Active: true})
			if !assert.NoError(t, err) {
				return
			}
			_, err = ledger.Mark(ctx, uow, ident, key)
			assert.NoError(t, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("marking blocked on the in-process queue")
	}
}

func TestLedger_LocalQueueWithoutConsumer(t *testing.T) {
	a, err := Open(context.Background(), memoryConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.LocalQueue())
	markMany(t, a, 65)
}

func TestLedger_LocalQueueFeedsNotifier(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.EmailEnabled = true
	a, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	markMany(t, a, 65)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := a.Queue.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, "E000", msg.Key)
	case <-time.After(time.Second):
		t.Fatal("no attendance message queued")
	}
}
