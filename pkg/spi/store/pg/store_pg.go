package pg

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/username/betflow/pkg/core"
	"github.com/username/betflow/pkg/spi"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BlockModel represents a projected block tuple in the database
type BlockModel struct {
	Number      uint64 `gorm:"primaryKey;autoIncrement:false"`
	Hash        string `gorm:"size:66;not null"`
	EventIDs    string `gorm:"type:text;not null"` // comma separated, application order
	ProcessedAt time.Time
}

// OutcomeModel represents one recorded transaction outcome
type OutcomeModel struct {
	ID          uint64 `gorm:"primaryKey"`
	Sender      string `gorm:"size:42;not null;index"`
	TxHash      string `gorm:"size:66;not null"`
	Result      string `gorm:"size:32;not null"`
	EventType   string `gorm:"size:64"`
	BlockNumber uint64
	RecordedAt  time.Time
}

// Store implements spi.Journal using PostgreSQL
type Store struct {
	db *gorm.DB
}

var _ spi.Journal = (*Store)(nil)

// NewStore creates a new PostgreSQL store
func NewStore(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn), // Warn level for production
	})
	if err != nil {
		return nil, err
	}
	return NewStoreFromDB(db)
}

// NewStoreFromDB wraps an open gorm connection and migrates the schema
func NewStoreFromDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&BlockModel{}, &OutcomeModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// SaveBlock records an applied block tuple
func (s *Store) SaveBlock(ctx context.Context, block core.BlockTuple) error {
	model := BlockModel{
		Number:      block.Number,
		Hash:        string(block.Hash),
		EventIDs:    joinIDs(block.EventIDs),
		ProcessedAt: time.Now(),
	}
	// Use Save to upsert (primary key is Number)
	return s.db.WithContext(ctx).Save(&model).Error
}

// GetLastBlock returns the last recorded block tuple
func (s *Store) GetLastBlock(ctx context.Context) (*core.BlockTuple, error) {
	var model BlockModel
	result := s.db.WithContext(ctx).Order("number desc").First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil // No blocks yet
		}
		return nil, result.Error
	}
	return toBlockTuple(&model)
}

// Rewind deletes all blocks with number > height
func (s *Store) Rewind(ctx context.Context, height uint64) error {
	return s.db.WithContext(ctx).Where("number > ?", height).Delete(&BlockModel{}).Error
}

// SaveOutcome appends a transaction outcome
func (s *Store) SaveOutcome(ctx context.Context, sender core.Address, outcome core.TransactionOutcome) error {
	model := OutcomeModel{
		Sender:      string(sender),
		TxHash:      string(outcome.TxHash),
		Result:      string(outcome.Result),
		EventType:   string(outcome.EventType),
		BlockNumber: outcome.BlockNumber,
		RecordedAt:  time.Now(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func joinIDs(ids []core.EventID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]core.EventID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]core.EventID, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids[i] = core.EventID(n)
	}
	return ids, nil
}

func toBlockTuple(m *BlockModel) (*core.BlockTuple, error) {
	ids, err := splitIDs(m.EventIDs)
	if err != nil {
		return nil, err
	}
	return &core.BlockTuple{
		Number:   m.Number,
		Hash:     core.Hash(m.Hash),
		EventIDs: ids,
	}, nil
}
