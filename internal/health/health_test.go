package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/watchlist-kata/movietracker/internal/cache"
)

type stubCheck struct {
	name    string
	status  Status
	delay   time.Duration
	timeout time.Duration
}

func (s stubCheck) Name() string { return s.name }

func (s stubCheck) Timeout() time.Duration {
	if s.timeout == 0 {
		return time.Second
	}
	return s.timeout
}

func (s stubCheck) Check(ctx context.Context) Result {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Result{Status: StatusDown, Message: ctx.Err().Error()}
		}
	}
	return Result{Status: s.status, Message: string(s.status)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		in   []Status
		want Status
	}{
		{"no checks", nil, StatusUp},
		{"all up", []Status{StatusUp, StatusUp}, StatusUp},
		{"one degraded", []Status{StatusUp, StatusDegraded, StatusUp}, StatusDegraded},
		{"down wins over degraded", []Status{StatusDegraded, StatusDown, StatusUp}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.in...))
		})
	}
}

func TestRunDatabaseDownIsDown(t *testing.T) {
	agg := NewAggregator(discardLogger(), []Checker{
		stubCheck{name: CheckDatabase, status: StatusDown},
		stubCheck{name: CheckCache, status: StatusUp},
		stubCheck{name: CheckExternalAPI, status: StatusUp},
		stubCheck{name: CheckMemory, status: StatusUp},
		stubCheck{name: CheckDisk, status: StatusUp},
	}, WithVersion("1.2.3"))

	report := agg.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Len(t, report.Checks, 5)
	assert.Equal(t, StatusDown, report.Checks[CheckDatabase].Status)
	assert.Equal(t, "1.2.3", report.Version)
}

func TestRunTimesOutSlowCheck(t *testing.T) {
	agg := NewAggregator(discardLogger(), []Checker{
		stubCheck{name: "slow", status: StatusUp, delay: time.Second, timeout: 20 * time.Millisecond},
	})

	res, ok := agg.RunOne(context.Background(), "slow")
	require.True(t, ok)
	assert.Equal(t, StatusDown, res.Status)
	assert.Contains(t, res.Message, "timed out")

	_, ok = agg.RunOne(context.Background(), "missing")
	assert.False(t, ok)
}

func TestObserverSeesEveryResult(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]Status{}
	agg := NewAggregator(discardLogger(), []Checker{
		stubCheck{name: "a", status: StatusUp},
		stubCheck{name: "b", status: StatusDegraded},
	}, WithObserver(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		seen[r.Name] = r.Status
	}))

	report := agg.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, map[string]Status{"a": StatusUp, "b": StatusDegraded}, seen)
	assert.Equal(t, []string{"a", "b"}, agg.Names())
}

func TestWithoutDetails(t *testing.T) {
	r := Report{Checks: map[string]Result{"memory": {Status: StatusUp, Details: map[string]any{"x": 1}}}}
	stripped := r.WithoutDetails()
	assert.Nil(t, stripped.Checks["memory"].Details)
	assert.NotNil(t, r.Checks["memory"].Details, "original is untouched")
}

func TestDatabaseCheck(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	c := NewDatabaseCheck(db)
	res := c.Check(context.Background())
	assert.Equal(t, StatusUp, res.Status)
	assert.Equal(t, "sqlite", res.Details["dialect"])

	require.NoError(t, sqlDB.Close())
	res = c.Check(context.Background())
	assert.Equal(t, StatusDown, res.Status)
}

type failingCache struct{ cache.Cache }

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestCacheCheck(t *testing.T) {
	mc := cache.NewMemoryCache(time.Minute)
	res := NewCacheCheck(mc).Check(context.Background())
	assert.Equal(t, StatusUp, res.Status)
	assert.Equal(t, "memory", res.Details["backend"])

	res = NewCacheCheck(failingCache{mc}).Check(context.Background())
	assert.Equal(t, StatusDown, res.Status)
	assert.Contains(t, res.Message, "connection refused")
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestExternalAPICheck(t *testing.T) {
	res := NewExternalAPICheck("tmdb", pingFunc(func(context.Context) error { return nil })).Check(context.Background())
	assert.Equal(t, StatusUp, res.Status)

	res = NewExternalAPICheck("tmdb", pingFunc(func(context.Context) error {
		return errors.New("503")
	})).Check(context.Background())
	assert.Equal(t, StatusDown, res.Status)
	assert.Contains(t, res.Message, "tmdb")
}

func TestExternalAPICheckKeepsCauseOutOfReport(t *testing.T) {
	cause := errors.New(`Get "http://127.0.0.1:1/configuration?api_key=SUPERSECRETKEY": connection refused`)
	a := NewAggregator(slog.New(slog.NewTextHandler(io.Discard, nil)), []Checker{
		NewExternalAPICheck("tmdb", pingFunc(func(context.Context) error { return cause })),
	})

	res, ok := a.RunOne(context.Background(), CheckExternalAPI)
	require.True(t, ok)
	assert.Equal(t, StatusDown, res.Status)
	assert.Equal(t, "tmdb is unreachable", res.Message)
	assert.ErrorIs(t, res.Err, cause)

	body, err := json.Marshal(a.Run(context.Background()))
	require.NoError(t, err)
	assert.NotContains(t, string(body), "SUPERSECRETKEY")
}

func TestMemoryCheckThresholds(t *testing.T) {
	tests := []struct {
		used float64
		want Status
	}{
		{50, StatusUp},
		{79.9, StatusUp},
		{80, StatusDegraded},
		{89.9, StatusDegraded},
		{90, StatusDown},
	}
	for _, tt := range tests {
		c := NewMemoryCheck()
		c.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Total: 100, Used: uint64(tt.used), UsedPercent: tt.used}, nil
		}
		c.processRSS = func(context.Context) (uint64, error) { return 42, nil }

		res := c.Check(context.Background())
		assert.Equal(t, tt.want, res.Status, "used %.1f%%", tt.used)
		assert.Equal(t, uint64(42), res.Details["processRssBytes"])
	}
}

func TestMemoryCheckStatsError(t *testing.T) {
	c := NewMemoryCheck()
	c.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("no /proc")
	}
	assert.Equal(t, StatusDown, c.Check(context.Background()).Status)
}

func TestDiskCheckThresholds(t *testing.T) {
	c := NewDiskCheck("/data")
	c.usage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		assert.Equal(t, "/data", path)
		return &disk.UsageStat{Path: path, Total: 1000, Used: 850, Free: 150, UsedPercent: 85}, nil
	}
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, 85.0, res.Details["usedPercent"])

	c.usage = func(context.Context, string) (*disk.UsageStat, error) {
		return &disk.UsageStat{UsedPercent: 93.5}, nil
	}
	assert.Equal(t, StatusDown, c.Check(context.Background()).Status)
}

func TestWatchStopsWithContext(t *testing.T) {
	agg := NewAggregator(discardLogger(), []Checker{stubCheck{name: "a", status: StatusUp}})
	ctx, cancel := context.WithCancel(context.Background())

	runs := make(chan Report, 10)
	done := make(chan struct{})
	go func() {
		agg.Watch(ctx, 10*time.Millisecond, func(r Report) {
			select {
			case runs <- r:
			default:
			}
		})
		close(done)
	}()

	first := <-runs
	assert.Equal(t, StatusUp, first.Status)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
