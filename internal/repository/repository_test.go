package repository

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestRepository opens an in-memory SQLite database with the schema migrated.
func newTestRepository(t *testing.T) *GormRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return NewGormRepository(db, slog.New(slog.DiscardHandler))
}

func seedMovie(t *testing.T, repo *GormRepository, tmdbID int64, title, mediaType string) *GormMovie {
	t.Helper()
	m := &GormMovie{TMDBID: tmdbID, Title: title, MediaType: mediaType, VoteAverage: 7.5}
	require.NoError(t, repo.UpsertMovie(context.Background(), m))
	return m
}

func seedMovies(t *testing.T, repo *GormRepository, n int) []*GormMovie {
	t.Helper()
	movies := make([]*GormMovie, n)
	for i := range movies {
		movies[i] = seedMovie(t, repo, int64(1000+i), fmt.Sprintf("Movie %02d", i+1), MediaTypeMovie)
	}
	return movies
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "", want: PriorityMedium},
		{in: "low", want: PriorityLow},
		{in: "HIGH", want: PriorityHigh},
		{in: " medium ", want: PriorityMedium},
		{in: "urgent", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrValidation, "input %q", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	assert.Less(t, PriorityLow.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityHigh.Rank())
}

func TestOffsetForPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		page, limit, want int
	}{
		{page: 1, limit: 20, want: 0},
		{page: 3, limit: 20, want: 40},
		{page: 0, limit: 0, want: 0},
		{page: 2, limit: 1000, want: MaxLimit},
		{page: math.MaxInt, limit: 20, want: (MaxPage - 1) * 20},
	}
	for _, tt := range tests {
		got := OffsetForPage(tt.page, tt.limit)
		assert.Equal(t, tt.want, got, "page %d limit %d", tt.page, tt.limit)
		assert.GreaterOrEqual(t, got, 0)
	}
}

func TestAddToWatchlist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	movies := seedMovies(t, repo, 2)

	first, err := repo.AddToWatchlist(ctx, 1, movies[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.UserID)
	assert.Equal(t, movies[0].ID, first.MovieID)
	assert.Equal(t, PriorityMedium, first.Priority)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "Movie 01", first.Movie.Title)

	second, err := repo.AddToWatchlist(ctx, 1, movies[1].ID, PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)

	got, err := repo.GetWatchlistEntry(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.UserID, got.UserID)
	assert.Equal(t, first.MovieID, got.MovieID)
	assert.Equal(t, PriorityMedium, got.Priority)

	// other users have their own positions
	other, err := repo.AddToWatchlist(ctx, 2, movies[0].ID, PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Position)

	_, err = repo.AddToWatchlist(ctx, 1, movies[0].ID, PriorityLow)
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	_, err = repo.AddToWatchlist(ctx, 1, 9999, PriorityLow)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = repo.AddToWatchlist(ctx, 1, movies[1].ID, Priority("urgent"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConcurrentAddsGetDistinctPositions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	movies := seedMovies(t, repo, 10)

	var wg sync.WaitGroup
	errs := make(chan error, len(movies))
	for _, m := range movies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AddToWatchlist(ctx, 1, m.ID, PriorityMedium)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var got []int
	require.NoError(t, repo.db.Model(&GormWatchlist{}).Where("user_id = ?", 1).
		Order("position ASC").Pluck("position", &got).Error)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestLockUserWatchlist(t *testing.T) {
	t.Parallel()

	pg, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=movies dbname=movietracker sslmode=disable"}),
		&gorm.Config{DryRun: true, DisableAutomaticPing: true, Logger: gormlogger.Discard})
	require.NoError(t, err)
	stmt := lockUserWatchlist(pg, 42).Statement
	assert.Contains(t, stmt.SQL.String(), "pg_advisory_xact_lock")
	assert.Equal(t, []any{int64(42)}, stmt.Vars)

	repo := newTestRepository(t)
	assert.Same(t, repo.db, lockUserWatchlist(repo.db, 42), "sqlite needs no lock")
}

func TestGetWatchlistEntryNotFound(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)

	_, err := repo.GetWatchlistEntry(context.Background(), 42)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()
	repo := newTestRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.ListWatchlist(ctx, 1, ListOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListWatchlistPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	for _, m := range seedMovies(t, repo, 45) {
		_, err := repo.AddToWatchlist(ctx, 1, m.ID, PriorityMedium)
		require.NoError(t, err)
	}

	page1, err := repo.ListWatchlist(ctx, 1, ListOptions{Limit: 20, Offset: OffsetForPage(1, 20)})
	require.NoError(t, err)
	assert.Len(t, page1.Items, 20)
	assert.EqualValues(t, 45, page1.Total)
	assert.Equal(t, 3, page1.TotalPages)
	assert.Equal(t, 1, page1.Page)
	assert.Equal(t, 1, page1.Items[0].Position)

	page3, err := repo.ListWatchlist(ctx, 1, ListOptions{Limit: 20, Offset: OffsetForPage(3, 20)})
	require.NoError(t, err)
	assert.Len(t, page3.Items, 5)
	assert.Equal(t, 3, page3.Page)

	empty, err := repo.ListWatchlist(ctx, 2, ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
	assert.Equal(t, 0, empty.TotalPages)
	assert.Equal(t, DefaultLimit, empty.Limit)

	capped, err := repo.ListWatchlist(ctx, 1, ListOptions{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, capped.Limit)
}

func TestListWatchlistSortingAndFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	zodiac := seedMovie(t, repo, 1, "Zodiac", MediaTypeMovie)
	alien := seedMovie(t, repo, 2, "Alien", MediaTypeMovie)
	heat := seedMovie(t, repo, 3, "Heat", MediaTypeMovie)

	_, err := repo.AddToWatchlist(ctx, 1, zodiac.ID, PriorityLow)
	require.NoError(t, err)
	_, err = repo.AddToWatchlist(ctx, 1, alien.ID, PriorityHigh)
	require.NoError(t, err)
	_, err = repo.AddToWatchlist(ctx, 1, heat.ID, PriorityMedium)
	require.NoError(t, err)

	titles := func(p *Page[GormWatchlist]) []string {
		out := make([]string, len(p.Items))
		for i, e := range p.Items {
			out[i] = e.Movie.Title
		}
		return out
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{name: "default position order", opts: ListOptions{}, want: []string{"Zodiac", "Alien", "Heat"}},
		{name: "title asc", opts: ListOptions{SortBy: SortByTitle, SortOrder: SortAsc}, want: []string{"Alien", "Heat", "Zodiac"}},
		{name: "title desc", opts: ListOptions{SortBy: SortByTitle, SortOrder: "DESC"}, want: []string{"Zodiac", "Heat", "Alien"}},
		{name: "priority desc", opts: ListOptions{SortBy: SortByPriority, SortOrder: SortDesc}, want: []string{"Alien", "Heat", "Zodiac"}},
		{name: "priority asc", opts: ListOptions{SortBy: SortByPriority, SortOrder: SortAsc}, want: []string{"Zodiac", "Heat", "Alien"}},
		{name: "filter priority", opts: ListOptions{Priority: PriorityHigh}, want: []string{"Alien"}},
		{name: "search case-insensitive", opts: ListOptions{Search: "EA"}, want: []string{"Heat"}},
		{name: "search with wildcard characters", opts: ListOptions{Search: "%"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.ListWatchlist(ctx, 1, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(page))
		})
	}

	searched, err := repo.SearchWatchlist(ctx, 1, "alien", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alien"}, titles(searched))

	_, err = repo.ListWatchlist(ctx, 1, ListOptions{SortBy: "rating"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = repo.ListWatchlist(ctx, 1, ListOptions{SortOrder: "sideways"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdatePriorityKeepsPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	movies := seedMovies(t, repo, 2)

	_, err := repo.AddToWatchlist(ctx, 1, movies[0].ID, PriorityLow)
	require.NoError(t, err)
	entry, err := repo.AddToWatchlist(ctx, 1, movies[1].ID, PriorityLow)
	require.NoError(t, err)

	updated, err := repo.UpdatePriority(ctx, entry.ID, PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, updated.Priority)
	assert.Equal(t, entry.Position, updated.Position)

	_, err = repo.UpdatePriority(ctx, 999, PriorityHigh)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = repo.UpdatePriority(ctx, entry.ID, Priority("urgent"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRemoveFromWatchlistLeavesGaps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	movies := seedMovies(t, repo, 3)

	var ids []uint
	for _, m := range movies {
		e, err := repo.AddToWatchlist(ctx, 1, m.ID, PriorityMedium)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	require.NoError(t, repo.RemoveFromWatchlist(ctx, ids[1]))
	assert.ErrorIs(t, repo.RemoveFromWatchlist(ctx, ids[1]), ErrRecordNotFound)

	page, err := repo.ListWatchlist(ctx, 1, ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.Items[0].Position)
	assert.Equal(t, 3, page.Items[1].Position)

	// next add goes after the highest position
	again, err := repo.AddToWatchlist(ctx, 1, movies[1].ID, PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, 4, again.Position)
}

func TestRemoveMovieAndCheckInWatchlist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	movie := seedMovies(t, repo, 1)[0]

	entry, err := repo.CheckInWatchlist(ctx, 1, movie.ID)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = repo.AddToWatchlist(ctx, 1, movie.ID, PriorityMedium)
	require.NoError(t, err)

	entry, err = repo.CheckInWatchlist(ctx, 1, movie.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, movie.ID, entry.MovieID)

	require.NoError(t, repo.RemoveMovieFromWatchlist(ctx, 1, movie.ID))
	assert.ErrorIs(t, repo.RemoveMovieFromWatchlist(ctx, 1, movie.ID), ErrRecordNotFound)
}

func addAll(t *testing.T, repo *GormRepository, userID uint, movies []*GormMovie) []uint {
	t.Helper()
	ids := make([]uint, len(movies))
	for i, m := range movies {
		e, err := repo.AddToWatchlist(context.Background(), userID, m.ID, PriorityMedium)
		require.NoError(t, err)
		ids[i] = e.ID
	}
	return ids
}

func positions(t *testing.T, repo *GormRepository, ids ...uint) []int {
	t.Helper()
	out := make([]int, len(ids))
	for i, id := range ids {
		e, err := repo.GetWatchlistEntry(context.Background(), id)
		require.NoError(t, err)
		out[i] = e.Position
	}
	return out
}

func TestReorderWatchlist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	ids := addAll(t, repo, 1, seedMovies(t, repo, 3))

	list, err := repo.ReorderWatchlist(ctx, 1, []uint{ids[2], ids[0], ids[1]})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []uint{ids[2], ids[0], ids[1]}, []uint{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, []int{2, 3, 1}, positions(t, repo, ids...))
}

func TestReorderWatchlistAppendsUnlistedEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	ids := addAll(t, repo, 1, seedMovies(t, repo, 4))

	require.NoError(t, repo.RemoveFromWatchlist(ctx, ids[1]))

	_, err := repo.ReorderWatchlist(ctx, 1, []uint{ids[3]})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1}, positions(t, repo, ids[0], ids[2], ids[3]))
}

func TestReorderWatchlistRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	movies := seedMovies(t, repo, 3)
	mine := addAll(t, repo, 1, movies[:2])
	theirs := addAll(t, repo, 2, movies[2:])

	_, err := repo.ReorderWatchlist(ctx, 1, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = repo.ReorderWatchlist(ctx, 1, []uint{mine[0], mine[0]})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = repo.ReorderWatchlist(ctx, 1, []uint{mine[1], theirs[0], mine[0]})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = repo.ReorderWatchlist(ctx, 1, []uint{mine[1], 777})
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// nothing was applied
	assert.Equal(t, []int{1, 2}, positions(t, repo, mine...))
}

func TestBulkUpdatePriorities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	movies := seedMovies(t, repo, 3)
	ids := addAll(t, repo, 1, movies[:2])
	foreign := addAll(t, repo, 2, movies[2:])

	priorityOf := func(id uint) Priority {
		e, err := repo.GetWatchlistEntry(ctx, id)
		require.NoError(t, err)
		return e.Priority
	}

	t.Run("invalid priority rejects whole batch", func(t *testing.T) {
		_, err := repo.BulkUpdatePriorities(ctx, 1, []PriorityUpdate{
			{ID: ids[0], Priority: PriorityHigh},
			{ID: ids[1], Priority: Priority("urgent")},
		})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, PriorityMedium, priorityOf(ids[0]))
		assert.Equal(t, PriorityMedium, priorityOf(ids[1]))
	})

	t.Run("foreign entry rolls back", func(t *testing.T) {
		_, err := repo.BulkUpdatePriorities(ctx, 1, []PriorityUpdate{
			{ID: ids[0], Priority: PriorityHigh},
			{ID: foreign[0], Priority: PriorityLow},
		})
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Equal(t, PriorityMedium, priorityOf(ids[0]))
		assert.Equal(t, PriorityMedium, priorityOf(foreign[0]))
	})

	t.Run("empty batch", func(t *testing.T) {
		_, err := repo.BulkUpdatePriorities(ctx, 1, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("applies all updates", func(t *testing.T) {
		results, err := repo.BulkUpdatePriorities(ctx, 1, []PriorityUpdate{
			{ID: ids[1], Priority: PriorityLow},
			{ID: ids[0], Priority: PriorityHigh},
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, ids[1], results[0].ID)
		assert.Equal(t, PriorityLow, results[0].Priority)
		assert.Equal(t, PriorityHigh, priorityOf(ids[0]))
	})
}

func TestWatchlistStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	movies := seedMovies(t, repo, 4)

	for i, p := range []Priority{PriorityHigh, PriorityHigh, PriorityLow} {
		_, err := repo.AddToWatchlist(ctx, 1, movies[i].ID, p)
		require.NoError(t, err)
	}
	_, err := repo.AddToWatchlist(ctx, 2, movies[3].ID, PriorityMedium)
	require.NoError(t, err)

	stats, err := repo.WatchlistStats(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.ByPriority[PriorityHigh])
	assert.EqualValues(t, 0, stats.ByPriority[PriorityMedium])
	assert.EqualValues(t, 1, stats.ByPriority[PriorityLow])
}

func TestUpsertMovieDeduplicatesByCatalogID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	first := &GormMovie{TMDBID: 603, Title: "The Matrix", VoteAverage: 8.1}
	require.NoError(t, repo.UpsertMovie(ctx, first))
	assert.Equal(t, MediaTypeMovie, first.MediaType)

	second := &GormMovie{TMDBID: 603, Title: "The Matrix (1999)", VoteAverage: 8.2}
	require.NoError(t, repo.UpsertMovie(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	stored, err := repo.GetMovie(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix (1999)", stored.Title)
	assert.InDelta(t, 8.2, stored.VoteAverage, 0.001)

	assert.ErrorIs(t, repo.UpsertMovie(ctx, &GormMovie{Title: "No id"}), ErrValidation)

	_, err = repo.GetMovie(ctx, 12345)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
