package repos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/outpost-vpn/outpost/internal/db/models"
)

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db          *gorm.DB
	ctx         context.Context
	recordRepo  *DisplayRecordRepository
	settingRepo *SettingRepository
}

func (s *DBRepositoryTestSuite) SetupTest() {
	// Create new in-memory database with JSON support
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		DryRun:                                   false,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	// Run migrations
	err = db.AutoMigrate(&models.DisplayRecord{}, &models.Setting{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	// Initialize repositories
	s.db = db
	s.recordRepo = NewDisplayRecordRepository(s.db)
	s.settingRepo = NewSettingRepository(s.db)
	s.ctx = context.Background()
}

func (s *DBRepositoryTestSuite) TearDownTest() {
	s.db.Exec("DELETE FROM display_records")
	s.db.Exec("DELETE FROM settings")
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// createTestRecord persists a cloud-managed display record.
func (s *DBRepositoryTestSuite) createTestRecord(id, name string) *models.DisplayRecord {
	record := &models.DisplayRecord{
		ID:              id,
		Name:            name,
		IsManaged:       true,
		CloudProviderID: "digitalocean",
		IsSynced:        true,
	}
	err := s.recordRepo.Upsert(s.ctx, record)
	s.Require().NoError(err)
	return record
}

// TestDBRepository runs the test suite for the DBRepository to verify no panic
func TestDBRepository(t *testing.T) {
	suite.Run(t, new(DBRepositoryTestSuite))
}
