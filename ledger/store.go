package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"turbocredit/currency"
)

const serializationRetries = 3

// Store is the transactional ledger. All public operations run inside a
// database transaction; every balance mutation appends an audit row in the
// same transaction.
type Store struct {
	writer *gorm.DB
	reader *gorm.DB
	now    func() time.Time
}

// Config captures the database endpoints. Reader falls back to the writer
// when not configured.
type Config struct {
	WriterDSN string
	ReaderDSN string
}

// Open connects to postgres, runs migrations, and returns the store.
func Open(cfg Config) (*Store, error) {
	writerDSN := strings.TrimSpace(cfg.WriterDSN)
	if writerDSN == "" {
		return nil, fmt.Errorf("ledger writer endpoint required")
	}
	writer, err := gorm.Open(postgres.Open(writerDSN), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	if err := AutoMigrate(writer); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	reader := writer
	if readerDSN := strings.TrimSpace(cfg.ReaderDSN); readerDSN != "" && readerDSN != writerDSN {
		reader, err = gorm.Open(postgres.Open(readerDSN), gormConfig())
		if err != nil {
			return nil, fmt.Errorf("open reader: %w", err)
		}
	}
	return &Store{writer: writer, reader: reader, now: time.Now}, nil
}

// OpenSQLite opens a sqlite-backed store. Single-node deployments and tests.
func OpenSQLite(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger storage path required")
	}
	db, err := gorm.Open(sqlite.Open(trimmed), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{writer: db, reader: db, now: time.Now}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Close releases both connection pools.
func (s *Store) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	if db, err := s.writer.DB(); err == nil {
		if cerr := db.Close(); cerr != nil {
			return cerr
		}
	}
	if s.reader != nil && s.reader != s.writer {
		if db, err := s.reader.DB(); err == nil {
			return db.Close()
		}
	}
	return nil
}

// SetClock overrides the store's time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// transact runs fn inside a transaction, retrying serialization failures a
// bounded number of times before surfacing the error.
func (s *Store) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		err = s.writer.WithContext(ctx).Transaction(fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return strings.Contains(msg, "40001") || strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "could not serialize")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func parseWinc(s string) (currency.Winc, error) {
	amount, err := currency.NewWinc(s)
	if err != nil {
		return currency.Winc{}, fmt.Errorf("parse winc amount: %w", err)
	}
	return amount, nil
}

// appendAudit writes one audit row. Callers run inside a transaction so the
// row commits atomically with the balance change it describes.
func (s *Store) appendAudit(tx *gorm.DB, entry AuditLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// lockUser loads a user under FOR UPDATE, returning ErrUserNotFound when the
// row does not exist.
func (s *Store) lockUser(tx *gorm.DB, address string) (*User, error) {
	var user User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", address).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user %s: %w", address, err)
	}
	return &user, nil
}
