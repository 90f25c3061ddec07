package repos

import (
	"gorm.io/gorm"

	"github.com/outpost-vpn/outpost/internal/db/models"
)

func (s *DBRepositoryTestSuite) TestDisplayRecordListOrder() {
	s.createTestRecord("https://b/api", "second")
	s.createTestRecord("https://a/api", "first")

	records, err := s.recordRepo.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	// Insertion order, not id order.
	s.Equal("second", records[0].Name)
	s.Equal("first", records[1].Name)
}

func (s *DBRepositoryTestSuite) TestDisplayRecordGet() {
	s.createTestRecord("https://a/api", "relay-1")

	record, err := s.recordRepo.Get(s.ctx, "https://a/api")
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal("relay-1", record.Name)
	s.True(record.IsManaged)

	// Absent records are (nil, nil), not an error.
	record, err = s.recordRepo.Get(s.ctx, "https://missing/api")
	s.Require().NoError(err)
	s.Nil(record)
}

func (s *DBRepositoryTestSuite) TestDisplayRecordUpsertUpdatesInPlace() {
	s.createTestRecord("https://a/api", "relay-1")

	err := s.recordRepo.Upsert(s.ctx, &models.DisplayRecord{
		ID:              "https://a/api",
		Name:            "renamed",
		IsManaged:       true,
		CloudProviderID: "gcp",
		IsSynced:        false,
	})
	s.Require().NoError(err)

	records, err := s.recordRepo.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("renamed", records[0].Name)
	s.Equal("gcp", records[0].CloudProviderID)
	s.False(records[0].IsSynced)
}

func (s *DBRepositoryTestSuite) TestDisplayRecordUpdateName() {
	s.createTestRecord("https://a/api", "relay-1")

	err := s.recordRepo.UpdateName(s.ctx, "https://a/api", "renamed")
	s.Require().NoError(err)

	record, err := s.recordRepo.Get(s.ctx, "https://a/api")
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.Equal("renamed", record.Name)

	err = s.recordRepo.UpdateName(s.ctx, "https://missing/api", "nope")
	s.Require().ErrorIs(err, gorm.ErrRecordNotFound)
}

func (s *DBRepositoryTestSuite) TestDisplayRecordDelete() {
	s.createTestRecord("https://a/api", "relay-1")

	s.Require().NoError(s.recordRepo.Delete(s.ctx, "https://a/api"))
	record, err := s.recordRepo.Get(s.ctx, "https://a/api")
	s.Require().NoError(err)
	s.Nil(record)

	// Deleting an absent record is not an error.
	s.Require().NoError(s.recordRepo.Delete(s.ctx, "https://a/api"))
}

func (s *DBRepositoryTestSuite) TestDisplayRecordDeleteBatch() {
	s.createTestRecord("https://a/api", "relay-1")
	s.createTestRecord("https://b/api", "relay-2")
	s.createTestRecord("https://c/api", "relay-3")

	err := s.recordRepo.DeleteBatch(s.ctx, []string{"https://a/api", "https://c/api"})
	s.Require().NoError(err)

	records, err := s.recordRepo.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("relay-2", records[0].Name)

	// Empty batch is a no-op.
	s.Require().NoError(s.recordRepo.DeleteBatch(s.ctx, nil))
}

func (s *DBRepositoryTestSuite) TestSettingGetSet() {
	value, err := s.settingRepo.Get(s.ctx, models.SettingLastShownServerID)
	s.Require().NoError(err)
	s.Empty(value)

	s.Require().NoError(s.settingRepo.Set(s.ctx, models.SettingLastShownServerID, "https://a/api"))
	value, err = s.settingRepo.Get(s.ctx, models.SettingLastShownServerID)
	s.Require().NoError(err)
	s.Equal("https://a/api", value)

	// Overwrite in place.
	s.Require().NoError(s.settingRepo.Set(s.ctx, models.SettingLastShownServerID, "https://b/api"))
	value, err = s.settingRepo.Get(s.ctx, models.SettingLastShownServerID)
	s.Require().NoError(err)
	s.Equal("https://b/api", value)
}
