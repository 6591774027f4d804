package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/model"
	"github.com/stemsi/exstem-proctoring/internal/response"
)

const healthTimeout = 3 * time.Second

// VendorPinger checks that the vendor API answers.
type VendorPinger interface {
	Ping(ctx context.Context) (bool, error)
}

// SystemHandler serves health, vendor reachability and a runtime snapshot.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	vendor    VendorPinger
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, vendor VendorPinger, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		vendor:    vendor,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	out := healthStatus{Status: "ok", Postgres: "ok", Redis: "ok"}
	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			out.Status, out.Postgres = "degraded", err.Error()
		}
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			out.Status, out.Redis = "degraded", err.Error()
		}
	}

	code := http.StatusOK
	if out.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, out)
}

// VendorPing godoc
// GET /api/v1/vendor/ping
func (h *SystemHandler) VendorPing(c *gin.Context) {
	ok, err := h.vendor.Ping(c.Request.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("Vendor ping failed")
	}
	response.Success(c, http.StatusOK, model.VendorPingResponse{Reachable: ok})
}

type runtimeSnapshot struct {
	Timestamp     int64  `json:"timestamp"`
	Uptime        string `json:"uptime"`
	GoVersion     string `json:"go_version"`
	NumCPU        int    `json:"num_cpu"`
	Goroutines    int    `json:"goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc"`
	HeapSys       uint64 `json:"heap_sys"`
	NumGC         uint32 `json:"num_gc"`
	DBTotalConns  int32  `json:"db_total_conns"`
	DBIdleConns   int32  `json:"db_idle_conns"`
	QueueFailures int64  `json:"queue_failures"`
	DeadFailures  int64  `json:"dead_failures"`
}

// Runtime godoc
// GET /api/v1/admin/system
func (h *SystemHandler) Runtime(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := runtimeSnapshot{
		Timestamp:  time.Now().Unix(),
		Uptime:     formatDuration(time.Since(h.startTime)),
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		NumGC:      ms.NumGC,
	}
	if h.pool != nil {
		stat := h.pool.Stat()
		snap.DBTotalConns = stat.TotalConns()
		snap.DBIdleConns = stat.IdleConns()
	}
	if h.rdb != nil {
		n, err := h.rdb.LLen(c.Request.Context(), config.WorkerKey.PersistRemoteFailuresQueue).Result()
		if err == nil {
			snap.QueueFailures = n
		}
		if n, err := h.rdb.LLen(c.Request.Context(), config.WorkerKey.DeadRemoteFailuresQueue).Result(); err == nil {
			snap.DeadFailures = n
		}
	}

	response.Success(c, http.StatusOK, snap)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
