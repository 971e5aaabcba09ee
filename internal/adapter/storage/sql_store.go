package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/port"
)

// DBTX is implemented by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)

	_ port.AggregateRepository = (*SQLStore)(nil)
	_ port.OutboxRepository    = (*SQLStore)(nil)
)

const (
	seriesColumns = `id, supplier_id, title, iso_category, main_product, status, draft_status,
		version, created_at, updated_at, created_by, updated_by`
	productColumns = `id, series_id, supplier_id, title, iso_category, hms_art_nr, main_product,
		status, draft_status, version, created_at, updated_at, created_by, updated_by`
	partColumns = `id, series_uuid, supplier_id, title, iso_category, hms_art_nr, lev_art_nr,
		spare_part, accessory, status, draft_status, version, created_at, updated_at, created_by, updated_by`
	serviceTaskColumns = `id, supplier_id, supplier_ref, hms_art_nr, iso_category, title, status,
		draft_status, published, expired, attributes, version, created_at, updated_at, created_by, updated_by`
)

// SQLStore is the aggregate store over MySQL, PostgreSQL or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB { return s.db }

// withTx runs fn in a transaction. Errors already classified by the domain
// pass through; anything else becomes a persistence failure.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

func persistErr(op string, err error) error {
	for _, known := range []error{
		domain.ErrNotFound, domain.ErrVersionConflict, domain.ErrAlreadyExists,
		domain.ErrInvalidInput, domain.ErrPersistenceFailure,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w: %s: %v", domain.ErrPersistenceFailure, domain.ErrAlreadyExists, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistenceFailure, op, err)
}

func (s *SQLStore) exec(ctx context.Context, q DBTX, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q DBTX, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q DBTX, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

// CreateAggregate inserts series, product and part in one transaction so no
// reader observes a product without its part or a part without its series.
func (s *SQLStore) CreateAggregate(ctx context.Context, agg domain.Aggregate, events []domain.Event) error {
	if agg.Part.ID != agg.Product.ID {
		return fmt.Errorf("%w: part id %s differs from product id %s", domain.ErrInvalidInput, agg.Part.ID, agg.Product.ID)
	}
	if agg.Part.SeriesUUID != agg.Series.ID || agg.Product.SeriesID != agg.Series.ID {
		return fmt.Errorf("%w: part/product do not reference series %s", domain.ErrInvalidInput, agg.Series.ID)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if agg.NewSeries {
			if err := s.insertSeries(ctx, tx, agg.Series); err != nil {
				return persistErr("insert series", err)
			}
		} else if err := s.requireSeriesVersion(ctx, tx, agg.Series.ID); err != nil {
			return err
		}
		if err := s.insertProduct(ctx, tx, agg.Product); err != nil {
			return persistErr("insert product", err)
		}
		if err := s.insertPart(ctx, tx, agg.Part); err != nil {
			return persistErr("insert part", err)
		}
		if err := s.insertEvents(ctx, tx, events); err != nil {
			return persistErr("insert outbox", err)
		}
		return nil
	})
}

func (s *SQLStore) requireSeriesVersion(ctx context.Context, q DBTX, id uuid.UUID) error {
	_, err := s.currentVersion(ctx, q, "series", id)
	return err
}

func (s *SQLStore) insertSeries(ctx context.Context, q DBTX, v domain.Series) error {
	_, err := s.exec(ctx, q, `INSERT INTO series (`+seriesColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SupplierID, v.Title, v.IsoCategory, v.MainProduct, v.Status, v.DraftStatus,
		v.Version, toMillis(v.CreatedAt), toMillis(v.UpdatedAt), v.CreatedBy, v.UpdatedBy,
	)
	return err
}

func (s *SQLStore) insertProduct(ctx context.Context, q DBTX, v domain.Product) error {
	_, err := s.exec(ctx, q, `INSERT INTO product (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SeriesID, v.SupplierID, v.Title, v.IsoCategory, v.HmsArtNr, v.MainProduct,
		v.Status, v.DraftStatus, v.Version, toMillis(v.CreatedAt), toMillis(v.UpdatedAt), v.CreatedBy, v.UpdatedBy,
	)
	return err
}

func (s *SQLStore) insertPart(ctx context.Context, q DBTX, v domain.Part) error {
	_, err := s.exec(ctx, q, `INSERT INTO part (`+partColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SeriesUUID, v.SupplierID, v.Title, v.IsoCategory, v.HmsArtNr, v.LevArtNr,
		v.SparePart, v.Accessory, v.Status, v.DraftStatus, v.Version,
		toMillis(v.CreatedAt), toMillis(v.UpdatedAt), v.CreatedBy, v.UpdatedBy,
	)
	return err
}

func (s *SQLStore) insertServiceTask(ctx context.Context, q DBTX, v domain.ServiceTask) error {
	_, err := s.exec(ctx, q, `INSERT INTO service_task (`+serviceTaskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SupplierID, v.SupplierRef, v.HmsArtNr, v.IsoCategory, v.Title, v.Status,
		v.DraftStatus, nullMillis(v.Published), nullMillis(v.Expired), v.Attributes, v.Version,
		toMillis(v.CreatedAt), toMillis(v.UpdatedAt), v.CreatedBy, v.UpdatedBy,
	)
	return err
}

func (s *SQLStore) CreateServiceTask(ctx context.Context, task domain.ServiceTask, events []domain.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertServiceTask(ctx, tx, task); err != nil {
			return persistErr("insert service task", err)
		}
		if err := s.insertEvents(ctx, tx, events); err != nil {
			return persistErr("insert outbox", err)
		}
		return nil
	})
}

// SaveChangeSet writes every update conditioned on its expected version.
func (s *SQLStore) SaveChangeSet(ctx context.Context, cs domain.ChangeSet, events []domain.Event) error {
	if cs.Empty() {
		return nil
	}
	if err := cs.CheckVersions(); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cs.Series {
			v := c.Value
			if err := s.conditionalUpdate(ctx, tx, "series", v.ID, c.Expected,
				`UPDATE series SET title = ?, iso_category = ?, main_product = ?, status = ?, draft_status = ?,
					version = version + 1, updated_at = ?, updated_by = ?
				WHERE id = ? AND version = ?`,
				v.Title, v.IsoCategory, v.MainProduct, v.Status, v.DraftStatus,
				toMillis(v.UpdatedAt), v.UpdatedBy, v.ID, c.Expected,
			); err != nil {
				return err
			}
		}
		for _, c := range cs.Products {
			v := c.Value
			if err := s.conditionalUpdate(ctx, tx, "product", v.ID, c.Expected,
				`UPDATE product SET title = ?, iso_category = ?, hms_art_nr = ?, main_product = ?, status = ?,
					draft_status = ?, version = version + 1, updated_at = ?, updated_by = ?
				WHERE id = ? AND version = ?`,
				v.Title, v.IsoCategory, v.HmsArtNr, v.MainProduct, v.Status,
				v.DraftStatus, toMillis(v.UpdatedAt), v.UpdatedBy, v.ID, c.Expected,
			); err != nil {
				return err
			}
		}
		for _, c := range cs.Parts {
			v := c.Value
			if err := s.conditionalUpdate(ctx, tx, "part", v.ID, c.Expected,
				`UPDATE part SET title = ?, iso_category = ?, hms_art_nr = ?, lev_art_nr = ?, spare_part = ?,
					accessory = ?, status = ?, draft_status = ?, version = version + 1, updated_at = ?, updated_by = ?
				WHERE id = ? AND version = ?`,
				v.Title, v.IsoCategory, v.HmsArtNr, v.LevArtNr, v.SparePart,
				v.Accessory, v.Status, v.DraftStatus, toMillis(v.UpdatedAt), v.UpdatedBy, v.ID, c.Expected,
			); err != nil {
				return err
			}
		}
		for _, c := range cs.ServiceTasks {
			v := c.Value
			if err := s.conditionalUpdate(ctx, tx, "service_task", v.ID, c.Expected,
				`UPDATE service_task SET supplier_ref = ?, hms_art_nr = ?, iso_category = ?, title = ?, status = ?,
					draft_status = ?, published = ?, expired = ?, attributes = ?, version = version + 1,
					updated_at = ?, updated_by = ?
				WHERE id = ? AND version = ?`,
				v.SupplierRef, v.HmsArtNr, v.IsoCategory, v.Title, v.Status,
				v.DraftStatus, nullMillis(v.Published), nullMillis(v.Expired), v.Attributes,
				toMillis(v.UpdatedAt), v.UpdatedBy, v.ID, c.Expected,
			); err != nil {
				return err
			}
		}
		if err := s.insertEvents(ctx, tx, events); err != nil {
			return persistErr("insert outbox", err)
		}
		return nil
	})
}

func (s *SQLStore) UpdateWithVersionCheck(ctx context.Context, entity domain.Entity, expectedVersion int64, events []domain.Event) error {
	var cs domain.ChangeSet
	if err := cs.Add(entity, expectedVersion); err != nil {
		return err
	}
	return s.SaveChangeSet(ctx, cs, events)
}

// conditionalUpdate executes a compare-and-swap on version. When no row
// matched it tells a missing row apart from a stale version.
func (s *SQLStore) conditionalUpdate(ctx context.Context, q DBTX, table string, id uuid.UUID, expected int64, query string, args ...any) error {
	result, err := s.exec(ctx, q, query, args...)
	if err != nil {
		return persistErr("update "+table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return persistErr("rows affected "+table, err)
	}
	if rows == 1 {
		return nil
	}

	current, err := s.currentVersion(ctx, q, table, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s expected version %d, stored %d", domain.ErrVersionConflict, table, id, expected, current)
}

func (s *SQLStore) currentVersion(ctx context.Context, q DBTX, table string, id uuid.UUID) (int64, error) {
	var version int64
	err := s.queryRow(ctx, q, `SELECT version FROM `+table+` WHERE id = ?`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s %s", domain.ErrNotFound, table, id)
	}
	if err != nil {
		return 0, persistErr("query "+table+" version", err)
	}
	return version, nil
}

func (s *SQLStore) GetSeries(ctx context.Context, id uuid.UUID) (*domain.Series, error) {
	v, err := scanSeries(s.queryRow(ctx, s.db, `SELECT `+seriesColumns+` FROM series WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: series %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, persistErr("query series", err)
	}
	return v, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	v, err := scanProduct(s.queryRow(ctx, s.db, `SELECT `+productColumns+` FROM product WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, persistErr("query product", err)
	}
	return v, nil
}

func (s *SQLStore) GetPart(ctx context.Context, id uuid.UUID) (*domain.Part, error) {
	v, err := scanPart(s.queryRow(ctx, s.db, `SELECT `+partColumns+` FROM part WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: part %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, persistErr("query part", err)
	}
	return v, nil
}

func (s *SQLStore) GetServiceTask(ctx context.Context, id uuid.UUID) (*domain.ServiceTask, error) {
	v, err := scanServiceTask(s.queryRow(ctx, s.db, `SELECT `+serviceTaskColumns+` FROM service_task WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: service task %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, persistErr("query service task", err)
	}
	return v, nil
}

func (s *SQLStore) ReadByID(ctx context.Context, kind domain.Kind, id uuid.UUID) (domain.Entity, error) {
	switch kind {
	case domain.KindSeries:
		v, err := s.GetSeries(ctx, id)
		if err != nil {
			return nil, err
		}
		return *v, nil
	case domain.KindProduct:
		v, err := s.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		return *v, nil
	case domain.KindPart:
		v, err := s.GetPart(ctx, id)
		if err != nil {
			return nil, err
		}
		return *v, nil
	case domain.KindServiceTask:
		v, err := s.GetServiceTask(ctx, id)
		if err != nil {
			return nil, err
		}
		return *v, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, kind)
}

func (s *SQLStore) ListProductsBySeries(ctx context.Context, seriesID uuid.UUID) ([]domain.Product, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+productColumns+` FROM product WHERE series_id = ? ORDER BY created_at, id`, seriesID)
	if err != nil {
		return nil, persistErr("list products", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		v, err := scanProduct(rows)
		if err != nil {
			return nil, persistErr("scan product", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list products", err)
	}
	return out, nil
}

func (s *SQLStore) ListPartsBySeries(ctx context.Context, seriesID uuid.UUID) ([]domain.Part, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+partColumns+` FROM part WHERE series_uuid = ? ORDER BY created_at, id`, seriesID)
	if err != nil {
		return nil, persistErr("list parts", err)
	}
	defer rows.Close()

	var out []domain.Part
	for rows.Next() {
		v, err := scanPart(rows)
		if err != nil {
			return nil, persistErr("scan part", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list parts", err)
	}
	return out, nil
}

type scanner interface{ Scan(...any) error }

func scanSeries(row scanner) (*domain.Series, error) {
	var v domain.Series
	var created, updated int64
	err := row.Scan(&v.ID, &v.SupplierID, &v.Title, &v.IsoCategory, &v.MainProduct, &v.Status, &v.DraftStatus,
		&v.Version, &created, &updated, &v.CreatedBy, &v.UpdatedBy)
	if err != nil {
		return nil, err
	}
	v.CreatedAt, v.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &v, nil
}

func scanProduct(row scanner) (*domain.Product, error) {
	var v domain.Product
	var created, updated int64
	err := row.Scan(&v.ID, &v.SeriesID, &v.SupplierID, &v.Title, &v.IsoCategory, &v.HmsArtNr, &v.MainProduct,
		&v.Status, &v.DraftStatus, &v.Version, &created, &updated, &v.CreatedBy, &v.UpdatedBy)
	if err != nil {
		return nil, err
	}
	v.CreatedAt, v.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &v, nil
}

func scanPart(row scanner) (*domain.Part, error) {
	var v domain.Part
	var created, updated int64
	err := row.Scan(&v.ID, &v.SeriesUUID, &v.SupplierID, &v.Title, &v.IsoCategory, &v.HmsArtNr, &v.LevArtNr,
		&v.SparePart, &v.Accessory, &v.Status, &v.DraftStatus, &v.Version, &created, &updated, &v.CreatedBy, &v.UpdatedBy)
	if err != nil {
		return nil, err
	}
	v.CreatedAt, v.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &v, nil
}

func scanServiceTask(row scanner) (*domain.ServiceTask, error) {
	var v domain.ServiceTask
	var published, expired sql.NullInt64
	var created, updated int64
	err := row.Scan(&v.ID, &v.SupplierID, &v.SupplierRef, &v.HmsArtNr, &v.IsoCategory, &v.Title, &v.Status,
		&v.DraftStatus, &published, &expired, &v.Attributes, &v.Version, &created, &updated, &v.CreatedBy, &v.UpdatedBy)
	if err != nil {
		return nil, err
	}
	v.Published, v.Expired = fromNullMillis(published), fromNullMillis(expired)
	v.CreatedAt, v.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &v, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
