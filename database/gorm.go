package database

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Instance is the relational model of a voting instance.
type Instance struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement:false"`
	Strategy     string `gorm:"size:32;index"`
	Phase        uint8  `gorm:"index"`
	RoundsLeft   uint8
	Initiator    []byte `gorm:"size:20;index"`
	Target       []byte `gorm:"size:20"`
	Opened       time.Time
	Duration     int64
	ExpectReturn bool
	Guard        uint8
	Digest       []byte `gorm:"size:32"`
	PayloadLen   int
	Offset       int
	Tally        []byte
	UpdatedAt    time.Time
}

func (Instance) TableName() string {
	return "instance"
}

// GuardRecord is the relational model of a voting.GuardKey.
type GuardRecord struct {
	ID       uint   `gorm:"primaryKey"`
	Instance uint64 `gorm:"uniqueIndex:guard_key"`
	Voter    []byte `gorm:"size:20;uniqueIndex:guard_key"`
	Choice   string `gorm:"size:128;uniqueIndex:guard_key"`
}

func (GuardRecord) TableName() string {
	return "guard"
}

var MigrateModels = []any{
	&Instance{},
	&GuardRecord{},
}

var _ voting.Store = (*GormStore)(nil)

// GormStore persists records through gorm on sqlite or postgres.
type GormStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewSqliteStore opens metadata.sqlite in dataDir, or a private in-memory
// database when dataDir is empty.
func NewSqliteStore(dataDir string, logger zerolog.Logger) (*GormStore, error) {
	var dsn string
	if dataDir == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if err := ensureDir(dataDir); err != nil {
			return nil, err
		}
		// WAL journal mode and a larger page cache
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=cache_size(-20000)",
			filepath.Join(dataDir, "verdict.sqlite"))
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	return newGormStore(db, logger)
}

func NewPostgresStore(dsn string, logger zerolog.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, err
	}
	return newGormStore(db, logger)
}

func newGormStore(db *gorm.DB, logger zerolog.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(MigrateModels...); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}
	logger.Info().Str("dialect", db.Dialector.Name()).Msg("opened voting store")
	return &GormStore{db: db, logger: logger}, nil
}

func (s *GormStore) Save(ctx context.Context, rec *voting.Record, guard *voting.GuardKey) error {
	model := toModel(rec)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
			return err
		}
		if guard == nil {
			return nil
		}
		return tx.Create(&GuardRecord{
			Instance: guard.Instance,
			Voter:    guard.Voter.Bytes(),
			Choice:   guard.Choice,
		}).Error
	})
}

func (s *GormStore) Load(ctx context.Context) ([]*voting.Record, []voting.GuardKey, error) {
	var models []Instance
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, nil, err
	}
	var guards []GuardRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&guards).Error; err != nil {
		return nil, nil, err
	}

	records := make([]*voting.Record, len(models))
	for i := range models {
		records[i] = fromModel(&models[i])
	}
	keys := make([]voting.GuardKey, len(guards))
	for i, g := range guards {
		keys[i] = voting.GuardKey{
			Instance: g.Instance,
			Voter:    common.BytesToAddress(g.Voter),
			Choice:   g.Choice,
		}
	}
	return records, keys, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(rec *voting.Record) Instance {
	return Instance{
		ID:           rec.ID,
		Strategy:     rec.Strategy,
		Phase:        uint8(rec.Status.Phase),
		RoundsLeft:   rec.Status.RoundsLeft,
		Initiator:    rec.Initiator.Bytes(),
		Target:       rec.Target.Bytes(),
		Opened:       rec.Opened.UTC(),
		Duration:     int64(rec.Duration),
		ExpectReturn: rec.ExpectReturn,
		Guard:        uint8(rec.Guard),
		Digest:       rec.Digest.Bytes(),
		PayloadLen:   rec.PayloadLen,
		Offset:       rec.Offset,
		Tally:        rec.Tally,
	}
}

func fromModel(m *Instance) *voting.Record {
	return &voting.Record{
		Instance: voting.Instance{
			ID:           m.ID,
			Strategy:     m.Strategy,
			Status:       voting.Status{Phase: voting.Phase(m.Phase), RoundsLeft: m.RoundsLeft},
			Initiator:    common.BytesToAddress(m.Initiator),
			Target:       common.BytesToAddress(m.Target),
			Opened:       m.Opened,
			Duration:     time.Duration(m.Duration),
			ExpectReturn: m.ExpectReturn,
			Guard:        voting.GuardMode(m.Guard),
			Digest:       common.BytesToHash(m.Digest),
			PayloadLen:   m.PayloadLen,
			Offset:       m.Offset,
		},
		Tally: m.Tally,
	}
}
