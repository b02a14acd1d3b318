package health

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"

	"github.com/watchlist-kata/movietracker/internal/cache"
)

// Thresholds per check.
const (
	DatabaseTimeout       = 5 * time.Second
	DatabaseDegradedAfter = 500 * time.Millisecond

	CacheTimeout       = 3 * time.Second
	CacheDegradedAfter = 500 * time.Millisecond

	ExternalAPITimeout       = 10 * time.Second
	ExternalAPIDegradedAfter = 2000 * time.Millisecond

	ResourceTimeout = 3 * time.Second

	UsageDegradedPercent = 80.0
	UsageDownPercent     = 90.0
)

func down(format string, args ...any) Result {
	return Result{Status: StatusDown, Message: fmt.Sprintf(format, args...)}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// DatabaseCheck pings the database and runs a trivial query.
type DatabaseCheck struct {
	db *gorm.DB
}

func NewDatabaseCheck(db *gorm.DB) *DatabaseCheck {
	return &DatabaseCheck{db: db}
}

func (c *DatabaseCheck) Name() string           { return CheckDatabase }
func (c *DatabaseCheck) Timeout() time.Duration { return DatabaseTimeout }

func (c *DatabaseCheck) Check(ctx context.Context) Result {
	start := time.Now()

	sqlDB, err := c.db.DB()
	if err != nil {
		return down("failed to get database handle: %v", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return down("database ping failed: %v", err)
	}
	var one int
	if err := c.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return down("database query failed: %v", err)
	}
	elapsed := time.Since(start)

	stats := sqlDB.Stats()
	res := Result{
		Status:  latencyStatus(elapsed, DatabaseDegradedAfter),
		Message: "database is reachable",
		Details: map[string]any{
			"dialect":         c.db.Dialector.Name(),
			"openConnections": stats.OpenConnections,
			"inUse":           stats.InUse,
			"idle":            stats.Idle,
			"latencyMs":       elapsed.Milliseconds(),
		},
	}
	if res.Status == StatusDegraded {
		res.Message = fmt.Sprintf("database responded slowly (%s)", elapsed.Round(time.Millisecond))
	}
	return res
}

// CacheCheck writes, reads back and deletes a probe key.
type CacheCheck struct {
	cache cache.Cache
}

func NewCacheCheck(c cache.Cache) *CacheCheck {
	return &CacheCheck{cache: c}
}

func (c *CacheCheck) Name() string           { return CheckCache }
func (c *CacheCheck) Timeout() time.Duration { return CacheTimeout }

func (c *CacheCheck) Check(ctx context.Context) Result {
	start := time.Now()
	key := "health:" + uuid.NewString()
	value := []byte(time.Now().UTC().Format(time.RFC3339Nano))

	if err := c.cache.Set(ctx, key, value, time.Minute); err != nil {
		return down("cache write failed: %v", err)
	}
	got, err := c.cache.Get(ctx, key)
	if err != nil {
		return down("cache read failed: %v", err)
	}
	if !bytes.Equal(got, value) {
		return down("cache returned a different value than written")
	}
	if err := c.cache.Delete(ctx, key); err != nil {
		return down("cache delete failed: %v", err)
	}
	elapsed := time.Since(start)

	res := Result{
		Status:  latencyStatus(elapsed, CacheDegradedAfter),
		Message: "cache round trip succeeded",
		Details: map[string]any{
			"backend":   c.cache.Backend(),
			"latencyMs": elapsed.Milliseconds(),
		},
	}
	if res.Status == StatusDegraded {
		res.Message = fmt.Sprintf("cache responded slowly (%s)", elapsed.Round(time.Millisecond))
	}
	return res
}

// Pinger is an external API that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ExternalAPICheck probes the media catalog.
type ExternalAPICheck struct {
	api  Pinger
	name string
}

// NewExternalAPICheck probes api; service names it in messages.
func NewExternalAPICheck(service string, api Pinger) *ExternalAPICheck {
	return &ExternalAPICheck{api: api, name: service}
}

func (c *ExternalAPICheck) Name() string           { return CheckExternalAPI }
func (c *ExternalAPICheck) Timeout() time.Duration { return ExternalAPITimeout }

func (c *ExternalAPICheck) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.api.Ping(ctx)
	elapsed := time.Since(start)

	details := map[string]any{
		"service":   c.name,
		"latencyMs": elapsed.Milliseconds(),
	}
	if b, ok := c.api.(interface{ BreakerState() string }); ok {
		details["circuitBreaker"] = b.BreakerState()
	}
	if err != nil {
		res := down("%s is unreachable", c.name)
		res.Details = details
		res.Err = err
		return res
	}

	res := Result{
		Status:  latencyStatus(elapsed, ExternalAPIDegradedAfter),
		Message: fmt.Sprintf("%s is reachable", c.name),
		Details: details,
	}
	if res.Status == StatusDegraded {
		res.Message = fmt.Sprintf("%s responded slowly (%s)", c.name, elapsed.Round(time.Millisecond))
	}
	return res
}

// MemoryCheck reports system memory usage with process and heap figures.
type MemoryCheck struct {
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	processRSS    func(ctx context.Context) (uint64, error)
}

func NewMemoryCheck() *MemoryCheck {
	return &MemoryCheck{
		virtualMemory: mem.VirtualMemoryWithContext,
		processRSS:    currentProcessRSS,
	}
}

func currentProcessRSS(ctx context.Context) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

func (c *MemoryCheck) Name() string           { return CheckMemory }
func (c *MemoryCheck) Timeout() time.Duration { return ResourceTimeout }

func (c *MemoryCheck) Check(ctx context.Context) Result {
	vm, err := c.virtualMemory(ctx)
	if err != nil {
		return down("failed to read memory statistics: %v", err)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	details := map[string]any{
		"totalBytes":     vm.Total,
		"usedBytes":      vm.Used,
		"availableBytes": vm.Available,
		"usedPercent":    round1(vm.UsedPercent),
		"heapAllocBytes": ms.HeapAlloc,
		"heapSysBytes":   ms.HeapSys,
		"goroutines":     runtime.NumGoroutine(),
	}
	if rss, err := c.processRSS(ctx); err == nil {
		details["processRssBytes"] = rss
	}

	return Result{
		Status:  usageStatus(vm.UsedPercent),
		Message: fmt.Sprintf("memory usage at %.1f%%", vm.UsedPercent),
		Details: details,
	}
}

// DiskCheck reports usage of the filesystem holding path.
type DiskCheck struct {
	path  string
	usage func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func NewDiskCheck(path string) *DiskCheck {
	return &DiskCheck{path: path, usage: disk.UsageWithContext}
}

func (c *DiskCheck) Name() string           { return CheckDisk }
func (c *DiskCheck) Timeout() time.Duration { return ResourceTimeout }

func (c *DiskCheck) Check(ctx context.Context) Result {
	u, err := c.usage(ctx, c.path)
	if err != nil {
		return down("failed to read disk usage for %s: %v", c.path, err)
	}
	return Result{
		Status:  usageStatus(u.UsedPercent),
		Message: fmt.Sprintf("disk usage at %.1f%% on %s", u.UsedPercent, c.path),
		Details: map[string]any{
			"path":        c.path,
			"totalBytes":  u.Total,
			"usedBytes":   u.Used,
			"freeBytes":   u.Free,
			"usedPercent": round1(u.UsedPercent),
			"fstype":      u.Fstype,
		},
	}
}
