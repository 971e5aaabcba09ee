package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/registration/internal/core/domain"
)

var fixedNow = time.Date(2026, 2, 3, 4, 5, 6, 7_000_000, time.UTC)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "store.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := Open(ctx, DialectSQLite, dsn, PoolConfig{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(ctx, db, DialectSQLite))
	// Migrating twice is harmless.
	require.NoError(t, Migrate(ctx, db, DialectSQLite))
	return NewSQLStore(db, DialectSQLite)
}

func newAggregate(supplier uuid.UUID) domain.Aggregate {
	seriesID, id := uuid.New(), uuid.New()
	lev := domain.ArtNr("LEV-" + id.String()[:8])
	return domain.Aggregate{
		NewSeries: true,
		Series: domain.Series{
			ID: seriesID, SupplierID: supplier, Title: "Series", IsoCategory: "12060101",
			Status: domain.StatusActive, DraftStatus: domain.DraftStatusDraft,
			CreatedAt: fixedNow, UpdatedAt: fixedNow, CreatedBy: "tester", UpdatedBy: "tester",
		},
		Product: domain.Product{
			ID: id, SeriesID: seriesID, SupplierID: supplier, Title: "Series", IsoCategory: "12060101",
			HmsArtNr: "HMS-1", Status: domain.StatusActive, DraftStatus: domain.DraftStatusDraft,
			CreatedAt: fixedNow, UpdatedAt: fixedNow, CreatedBy: "tester", UpdatedBy: "tester",
		},
		Part: domain.Part{
			ID: id, SeriesUUID: seriesID, SupplierID: supplier, Title: "Series", IsoCategory: "12060101",
			HmsArtNr: "HMS-1", LevArtNr: lev, SparePart: true, Status: domain.StatusActive,
			DraftStatus: domain.DraftStatusDraft, CreatedAt: fixedNow, UpdatedAt: fixedNow,
			CreatedBy: "tester", UpdatedBy: "tester",
		},
	}
}

func creationEvents(t *testing.T, agg domain.Aggregate) []domain.Event {
	t.Helper()
	var out []domain.Event
	for _, e := range []struct {
		name   domain.EventName
		entity domain.Entity
	}{
		{domain.EventSeriesCreated, agg.Series},
		{domain.EventProductCreated, agg.Product},
		{domain.EventPartCreated, agg.Part},
	} {
		ev, err := domain.NewEvent(e.name, e.entity, "tester", fixedNow)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

// testStoreContract runs the behaviour every dialect must share.
func testStoreContract(t *testing.T, store *SQLStore) {
	ctx := context.Background()

	t.Run("CreateAggregate round trip", func(t *testing.T) {
		agg := newAggregate(uuid.New())
		require.NoError(t, store.CreateAggregate(ctx, agg, creationEvents(t, agg)))

		series, err := store.GetSeries(ctx, agg.Series.ID)
		require.NoError(t, err)
		assert.Equal(t, agg.Series, *series)

		product, err := store.GetProduct(ctx, agg.Product.ID)
		require.NoError(t, err)
		assert.Equal(t, agg.Product, *product)

		part, err := store.GetPart(ctx, agg.Part.ID)
		require.NoError(t, err)
		assert.Equal(t, agg.Part, *part)

		e, err := store.ReadByID(ctx, domain.KindPart, agg.Part.ID)
		require.NoError(t, err)
		assert.Equal(t, agg.Part, e)

		products, err := store.ListProductsBySeries(ctx, agg.Series.ID)
		require.NoError(t, err)
		assert.Len(t, products, 1)
		parts, err := store.ListPartsBySeries(ctx, agg.Series.ID)
		require.NoError(t, err)
		assert.Len(t, parts, 1)
	})

	t.Run("CreateAggregate rejects inconsistent triple", func(t *testing.T) {
		agg := newAggregate(uuid.New())
		agg.Part.ID = uuid.New()
		err := store.CreateAggregate(ctx, agg, nil)
		require.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = store.GetSeries(ctx, agg.Series.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("CreateAggregate into missing series", func(t *testing.T) {
		agg := newAggregate(uuid.New())
		agg.NewSeries = false
		err := store.CreateAggregate(ctx, agg, nil)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("CreateAggregate is atomic", func(t *testing.T) {
		supplier := uuid.New()
		first := newAggregate(supplier)
		require.NoError(t, store.CreateAggregate(ctx, first, nil))

		backlog, err := store.Backlog(ctx)
		require.NoError(t, err)

		// Same supplier article number: the part insert fails after series
		// and product were written.
		second := newAggregate(supplier)
		second.Part.LevArtNr = first.Part.LevArtNr
		err = store.CreateAggregate(ctx, second, creationEvents(t, second))
		require.ErrorIs(t, err, domain.ErrAlreadyExists)
		require.ErrorIs(t, err, domain.ErrPersistenceFailure)

		after, err := store.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, backlog, after, "no event of the failed write reaches the outbox")

		_, err = store.GetSeries(ctx, second.Series.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.GetProduct(ctx, second.Product.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("UpdateWithVersionCheck", func(t *testing.T) {
		agg := newAggregate(uuid.New())
		require.NoError(t, store.CreateAggregate(ctx, agg, nil))

		next := agg.Series
		next.Title = "Renamed"
		next.Version = 1
		require.NoError(t, store.UpdateWithVersionCheck(ctx, next, 0, nil))

		stale := agg.Series
		stale.Title = "Stale"
		stale.Version = 1
		err := store.UpdateWithVersionCheck(ctx, stale, 0, nil)
		require.ErrorIs(t, err, domain.ErrVersionConflict)

		stored, err := store.GetSeries(ctx, agg.Series.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", stored.Title)
		assert.Equal(t, int64(1), stored.Version)

		missing := agg.Series
		missing.ID = uuid.New()
		missing.Version = 1
		err = store.UpdateWithVersionCheck(ctx, missing, 0, nil)
		require.ErrorIs(t, err, domain.ErrNotFound)

		skipped := agg.Series
		skipped.Version = 5
		err = store.UpdateWithVersionCheck(ctx, skipped, 1, nil)
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("SaveChangeSet is all or nothing", func(t *testing.T) {
		agg := newAggregate(uuid.New())
		require.NoError(t, store.CreateAggregate(ctx, agg, nil))

		series := agg.Series
		series.MainProduct = true
		series.Version = 1
		product := agg.Product
		product.MainProduct = true
		product.Version = 4

		var cs domain.ChangeSet
		require.NoError(t, cs.Add(series, 0))
		require.NoError(t, cs.Add(product, 3)) // stale
		ev, err := domain.NewEvent(domain.EventSeriesUpdated, series, "tester", fixedNow)
		require.NoError(t, err)

		err = store.SaveChangeSet(ctx, cs, []domain.Event{ev})
		require.ErrorIs(t, err, domain.ErrVersionConflict)

		stored, err := store.GetSeries(ctx, agg.Series.ID)
		require.NoError(t, err)
		assert.False(t, stored.MainProduct)
		assert.Equal(t, int64(0), stored.Version)
	})

	t.Run("ServiceTask round trip", func(t *testing.T) {
		published := fixedNow.Add(-time.Hour)
		task := domain.ServiceTask{
			ID: uuid.New(), SupplierID: uuid.New(), SupplierRef: "REF", HmsArtNr: "ST-1",
			IsoCategory: "12060101", Title: "Repair", Status: domain.StatusActive,
			DraftStatus: domain.DraftStatusDone, Published: &published,
			Attributes: domain.Attributes{
				Keywords:       []string{"repair"},
				Documents:      []domain.Document{{Title: "Manual", URL: "https://example.org/m.pdf"}},
				CompatibleWith: &domain.CompatibleWith{SeriesIDs: []uuid.UUID{uuid.New()}},
			},
			CreatedAt: fixedNow, UpdatedAt: fixedNow, CreatedBy: "tester", UpdatedBy: "tester",
		}
		require.NoError(t, store.CreateServiceTask(ctx, task, nil))

		stored, err := store.GetServiceTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, task, *stored)
		assert.Nil(t, stored.Expired)

		_, err = store.GetServiceTask(ctx, uuid.New())
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ReadByID unknown kind", func(t *testing.T) {
		_, err := store.ReadByID(ctx, domain.Kind("order"), uuid.New())
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestSQLiteStore(t *testing.T) {
	testStoreContract(t, newSQLiteStore(t))
}

func TestOutbox(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	agg := newAggregate(uuid.New())
	events := creationEvents(t, agg)
	require.NoError(t, store.CreateAggregate(ctx, agg, events))

	n, err := store.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pending, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, rec := range pending {
		assert.Equal(t, events[i].ID, rec.Event.ID)
		assert.Equal(t, events[i].Key, rec.Event.Key)
		assert.Equal(t, events[i].DTOVersion, rec.Event.DTOVersion)
		assert.JSONEq(t, string(events[i].Payload), string(rec.Event.Payload))
		assert.Nil(t, rec.PublishedAt)
		if i > 0 {
			assert.Greater(t, rec.Seq, pending[i-1].Seq)
		}
	}

	require.NoError(t, store.MarkFailed(ctx, pending[0].Seq, "nats: timeout"))
	require.NoError(t, store.MarkFailed(ctx, pending[0].Seq, "nats: timeout"))
	require.NoError(t, store.MarkPublished(ctx, pending[1].Seq, fixedNow))

	pending, err = store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "nats: timeout", pending[0].LastError)
	assert.Equal(t, events[2].Key, pending[1].Event.Key)

	limited, err := store.FetchPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// The same event instance cannot be committed twice.
	err = store.withTx(ctx, func(tx *sql.Tx) error {
		return persistErr("insert outbox", store.insertEvents(ctx, tx, events[:1]))
	})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
}

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ? WHERE id = ? AND version = ?`
	assert.Equal(t, q, DialectMySQL.rebind(q))
	assert.Equal(t, `UPDATE t SET a = $1 WHERE id = $2 AND version = $3`, DialectPostgres.rebind(q))
}

func TestParseDialect(t *testing.T) {
	for _, name := range []string{"mysql", "postgres", "sqlite3"} {
		d, err := ParseDialect(name)
		require.NoError(t, err)
		assert.Equal(t, Dialect(name), d)
	}
	_, err := ParseDialect("oracle")
	require.Error(t, err)
}
