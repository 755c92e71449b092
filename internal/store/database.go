package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lordvitaly/lvchat/internal/models"
)

// DatabaseStore keeps records in the store_records table of a SQL database.
// The *gorm.DB is owned by the caller; Close does not close it.
type DatabaseStore struct {
	db   *gorm.DB
	opts options
}

var (
	_ Store  = (*DatabaseStore)(nil)
	_ Pinger = (*DatabaseStore)(nil)
)

// NewDatabaseStore constructs a database-backed Store. The schema is expected
// to be migrated already (see database.AutoMigrate).
func NewDatabaseStore(db *gorm.DB, opts ...Option) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("store: database handle is required")
	}
	return &DatabaseStore{db: db, opts: buildOptions("database", opts)}, nil
}

func (s *DatabaseStore) Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration, opts ...PutOption) (Record, error) {
	if err := validateNamespace(namespace); err != nil {
		return Record{}, err
	}
	now := s.opts.now()
	rec, err := newRecord(now, key, value, ttl, s.opts.embeddedExpiry(namespace), opts)
	if err != nil {
		return Record{}, err
	}

	row := models.StoreRecord{
		Namespace: models.CaseSensitiveString(namespace),
		Key:       models.CaseSensitiveString(key),
		Value:     models.Document(rec.Value),
		CreatedAt: rec.CreatedAt.Unix(),
		UpdatedAt: now.UTC(),
	}
	if !rec.ExpiresAt.IsZero() {
		expires := rec.ExpiresAt.Unix()
		row.ExpiresAt = &expires
	}

	err = s.db.WithContext(ensureContext(ctx)).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "created_at", "expires_at", "updated_at"}),
		}).Create(&row).Error
	if err != nil {
		return Record{}, fmt.Errorf("store: write %s/%s: %w", namespace, key, err)
	}
	return rec, nil
}

func (s *DatabaseStore) Get(ctx context.Context, namespace, key string) (Record, error) {
	if err := validateNamespace(namespace); err != nil {
		return Record{}, err
	}
	if err := validateKey(key); err != nil {
		return Record{}, err
	}
	ctx = ensureContext(ctx)

	var row models.StoreRecord
	err := s.db.WithContext(ctx).
		Take(&row, "namespace = ? AND record_key = ?", namespace, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: read %s/%s: %w", namespace, key, err)
	}
	if !json.Valid(row.Value) {
		s.opts.log.Debug("unreadable record treated as absent",
			zap.String("namespace", namespace),
			zap.String("key", key),
		)
		return Record{}, ErrNotFound
	}

	rec := recordFromRow(row)
	now := s.opts.now()
	if rec.Expired(now) {
		err := s.db.WithContext(ctx).
			Where("namespace = ? AND record_key = ?", namespace, key).
			Where("expires_at IS NOT NULL AND expires_at < ?", now.Unix()).
			Delete(&models.StoreRecord{}).Error
		if err != nil {
			s.opts.log.Debug("reclaim expired record",
				zap.String("namespace", namespace),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return Record{}, ErrExpired
	}
	return rec, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, namespace, key string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	err := s.db.WithContext(ensureContext(ctx)).
		Where("namespace = ? AND record_key = ?", namespace, key).
		Delete(&models.StoreRecord{}).Error
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Keys lists live keys, skipping rows whose value cannot be read. Keys are
// sorted in Go since SQL collations order differently per dialect.
func (s *DatabaseStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	rows, err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.StoreRecord{}).
		Select("record_key", "value").
		Where("namespace = ?", namespace).
		Where("expires_at IS NULL OR expires_at >= ?", s.opts.now().Unix()).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", namespace, err)
	}

	keys := []string{}
	var errs error
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if json.Valid(value) {
			keys = append(keys, key)
		}
	}
	if err := multierr.Combine(errs, rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("store: list %s: %w", namespace, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *DatabaseStore) Sweep(ctx context.Context, namespace string, staleAfter time.Duration) int {
	ctx = ensureContext(ctx)
	log := s.opts.log.With(zap.String("namespace", namespace))
	now := s.opts.now()

	res := s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Where("expires_at IS NOT NULL AND expires_at < ?", now.Unix()).
		Delete(&models.StoreRecord{})
	if res.Error != nil {
		log.Warn("sweep failed", zap.Error(res.Error))
		return 0
	}
	removed := int(res.RowsAffected)

	if staleAfter > 0 {
		n, err := s.sweepCorrupt(ctx, namespace, now.Add(-staleAfter).UTC())
		if err != nil {
			log.Debug("sweep skipped records", zap.Error(err))
		}
		removed += n
	}
	return removed
}

// sweepCorrupt removes rows whose value is not valid JSON and that were last
// written before cutoff.
func (s *DatabaseStore) sweepCorrupt(ctx context.Context, namespace string, cutoff time.Time) (int, error) {
	rows, err := s.db.WithContext(ctx).
		Model(&models.StoreRecord{}).
		Select("record_key", "value").
		Where("namespace = ? AND updated_at < ?", namespace, cutoff).
		Rows()
	if err != nil {
		return 0, err
	}

	var corrupt []string
	var errs error
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !json.Valid(value) {
			corrupt = append(corrupt, key)
		}
	}
	errs = multierr.Combine(errs, rows.Err(), rows.Close())
	if len(corrupt) == 0 {
		return 0, errs
	}

	res := s.db.WithContext(ctx).
		Where("namespace = ? AND record_key IN ?", namespace, corrupt).
		Delete(&models.StoreRecord{})
	if res.Error != nil {
		return 0, multierr.Append(errs, res.Error)
	}
	return int(res.RowsAffected), errs
}

func (s *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ensureContext(ctx))
}

func (s *DatabaseStore) Close() error {
	return nil
}

func recordFromRow(row models.StoreRecord) Record {
	rec := Record{
		Key:       string(row.Key),
		Value:     json.RawMessage(row.Value),
		CreatedAt: time.Unix(row.CreatedAt, 0),
	}
	if row.ExpiresAt != nil {
		rec.ExpiresAt = time.Unix(*row.ExpiresAt, 0)
	}
	return rec
}
