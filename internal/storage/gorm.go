package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chrismrutherford/mutt/internal/history"
)

// messageRecord is the relational row of a committed message.
type messageRecord struct {
	ID        string    `gorm:"primaryKey;size:255"`
	Role      string    `gorm:"size:50;not null"`
	Content   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null;index:idx_messages_timestamp"`
	UserID    *string   `gorm:"column:user_id;size:255"`
}

func (messageRecord) TableName() string { return "messages" }

func recordFrom(m history.Message) messageRecord {
	rec := messageRecord{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC(),
	}
	if m.UserID != "" {
		uid := m.UserID
		rec.UserID = &uid
	}
	return rec
}

func (r messageRecord) message() history.Message {
	m := history.Message{
		ID:        r.ID,
		Role:      history.Role(r.Role),
		Content:   r.Content,
		Timestamp: r.Timestamp,
	}
	if r.UserID != nil {
		m.UserID = *r.UserID
	}
	return m
}

// GormStore keeps records in a relational database (PostgreSQL or SQLite).
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenPostgres connects to PostgreSQL, e.g.
// "host=postgres user=postgres password=postgres dbname=postgres port=5432".
func OpenPostgres(dsn string, logger *slog.Logger) (*GormStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: dsn is required")
	}
	return openGorm(postgres.Open(dsn), logger)
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string, logger *slog.Logger) (*GormStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	st, err := openGorm(sqlite.Open(path), logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := st.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	// SQLite works best with a single connection
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		st.logger.Warn("failed to enable WAL", "error", err)
	}
	return st, nil
}

func openGorm(dialector gorm.Dialector, logger *slog.Logger) (*GormStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database initialized", "dialect", dialector.Name())
	return &GormStore{db: db, logger: logger}, nil
}

func (s *GormStore) LoadAll(ctx context.Context) ([]history.Message, error) {
	var recs []messageRecord
	if err := s.db.WithContext(ctx).Order("timestamp ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]history.Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.message())
	}
	return out, nil
}

// Save inserts msg, overwriting content and timestamp when the id exists.
func (s *GormStore) Save(ctx context.Context, msg history.Message) error {
	rec := recordFrom(msg)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "timestamp"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&messageRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (s *GormStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&messageRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
