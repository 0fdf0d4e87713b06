package services

import (
	"testing"
	"time"

	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens a fresh in-memory database with the full schema.
// Connections are capped at one; the keyed locks in the services under
// test serialize writers anyway.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Membership{},
		&models.GeocodeEntry{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username:    username,
		Password:    "not-a-real-hash",
		DisplayName: username,
		Role:        "user",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// seedGroup creates an active group led by leaderID, with the leader's
// active membership and counters in place.
func seedGroup(t *testing.T, db *gorm.DB, leaderID uint, memberLimit int) *models.Group {
	t.Helper()
	group := &models.Group{
		Name:        "test group",
		MemberLimit: memberLimit,
		IsOpen:      true,
		IsActive:    true,
		LeaderID:    leaderID,
		ActiveCount: 1,
	}
	require.NoError(t, db.Create(group).Error)
	require.NoError(t, db.Create(&models.Membership{
		GroupID:  group.ID,
		UserID:   leaderID,
		Role:     models.RoleLeader,
		Status:   models.StatusActive,
		JoinedAt: time.Now(),
	}).Error)
	return group
}

func reloadGroup(t *testing.T, db *gorm.DB, id uint) *models.Group {
	t.Helper()
	var group models.Group
	require.NoError(t, db.First(&group, id).Error)
	return &group
}
