package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/pkg/metrics"
)

// ledgerRow is the persisted shape of a transfer record. AuthorKey holds the
// folded identity and carries the uniqueness constraint; Author keeps the
// display casing.
type ledgerRow struct {
	ID            uint   `gorm:"primarykey"`
	AuthorKey     string `gorm:"uniqueIndex;not null"`
	Author        string `gorm:"not null"`
	Amount        int
	SourceURL     string
	TransferredAt time.Time
}

func (ledgerRow) TableName() string { return "karma_transfer_history" }

func (r ledgerRow) record() model.TransferRecord {
	return model.TransferRecord{
		TransferredAt: r.TransferredAt,
		Author:        r.Author,
		Amount:        r.Amount,
		SourceURL:     r.SourceURL,
	}
}

func rowFrom(rec model.TransferRecord) ledgerRow {
	return ledgerRow{
		AuthorKey:     model.NormalizeIdentity(rec.Author),
		Author:        strings.TrimSpace(rec.Author),
		Amount:        rec.Amount,
		SourceURL:     rec.SourceURL,
		TransferredAt: rec.TransferredAt.UTC(),
	}
}

// GormStore is a Store over sqlite or postgres.
type GormStore struct {
	db                    *gorm.DB
	logger                *slog.Logger
	maxConns              int
	metricsUpdateInterval time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
}

// Open connects to the database named by dburl. Accepted forms are
// sqlite://path, sqlite=path, postgres://..., postgresql://... and
// postgres=dsn.
func Open(ctx context.Context, dburl string, opts ...Option) (*GormStore, error) {
	s := &GormStore{
		logger:                slog.Default(),
		maxConns:              8,
		metricsUpdateInterval: 30 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	var dial gorm.Dialector
	isSqlite := false
	openConns := s.maxConns
	switch {
	case strings.HasPrefix(dburl, "sqlite://"), strings.HasPrefix(dburl, "sqlite="):
		path := strings.TrimPrefix(strings.TrimPrefix(dburl, "sqlite://"), "sqlite=")
		if !strings.Contains(path, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dial = sqlite.Open(path)
		openConns = 1
		isSqlite = true
	case strings.HasPrefix(dburl, "postgresql://"), strings.HasPrefix(dburl, "postgres://"):
		dial = postgres.Open(dburl)
	case strings.HasPrefix(dburl, "postgres="):
		dial = postgres.Open(strings.TrimPrefix(dburl, "postgres="))
	default:
		scheme, _, _ := strings.Cut(dburl, ":")
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedDSN, scheme)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(slogGorm.WithLogger(s.logger)),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
	}

	s.db = db
	if s.metricsUpdateInterval > 0 {
		s.startMetricsUpdater(ctx)
	}
	return s, nil
}

// Migrate creates the ledger table and its unique index.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&ledgerRow{})
}

// Lookup returns the record for author.
func (s *GormStore) Lookup(ctx context.Context, author string) (model.TransferRecord, error) {
	start := time.Now()
	defer observe("lookup", start)

	var row ledgerRow
	err := s.db.WithContext(ctx).
		Where("author_key = ?", model.NormalizeIdentity(author)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.TransferRecord{}, ErrNotFound
	}
	if err != nil {
		metrics.RecordLedgerError("lookup")
		return model.TransferRecord{}, fmt.Errorf("lookup %q: %w", author, err)
	}
	return row.record(), nil
}

// RecordTransfer inserts rec unless the author already has a record.
func (s *GormStore) RecordTransfer(ctx context.Context, rec model.TransferRecord) error {
	start := time.Now()
	defer observe("record", start)

	row := rowFrom(rec)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "author_key"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		metrics.RecordLedgerError("record")
		return fmt.Errorf("record %q: %w", rec.Author, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ReplaceTransfer upserts rec.
func (s *GormStore) ReplaceTransfer(ctx context.Context, rec model.TransferRecord) error {
	start := time.Now()
	defer observe("replace", start)

	row := rowFrom(rec)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "author_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"author", "amount", "source_url", "transferred_at"}),
		}).
		Create(&row).Error
	if err != nil {
		metrics.RecordLedgerError("replace")
		return fmt.Errorf("replace %q: %w", rec.Author, err)
	}
	return nil
}

// Count returns the number of records.
func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ledgerRow{}).Count(&n).Error; err != nil {
		metrics.RecordLedgerError("count")
		return 0, err
	}
	return n, nil
}

// Close stops background work and releases the connection pool.
func (s *GormStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func (s *GormStore) startMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if n, err := s.Count(ctx); err == nil {
					metrics.UpdateLedgerRecords(n)
				}
			}
		}
	}()
}

func observe(op string, start time.Time) {
	metrics.RecordLedgerLatency(op, time.Since(start).Seconds())
}
