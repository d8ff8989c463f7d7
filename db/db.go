package db

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gitlab.com/gridshare/gpu-cloud-service/models"
)

var DB *gorm.DB

func ConnectDatabase(path string) error {
	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return err
	}

	err = database.AutoMigrate(
		&models.User{},
		&models.Host{},
		&models.Job{},
		&models.PublicModel{},
	)
	if err != nil {
		return err
	}

	DB = database
	zlog.Sugar().Infof("connected to database at %s", path)
	return nil
}

// Reachable reports whether the backing store answers a trivial query. Used
// by the detailed health endpoint; the liveness endpoint must not call it.
func Reachable() bool {
	if DB == nil {
		return false
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}

// SetHostOnline flips the derived online flag for a host and refreshes its
// heartbeat timestamp when coming online.
func SetHostOnline(hostID string, online bool) error {
	updates := map[string]interface{}{"is_online": online}
	if online {
		updates["last_heartbeat"] = time.Now().UTC()
	}
	return DB.Model(&models.Host{}).Where("host_id = ?", hostID).Updates(updates).Error
}

// HostOwnedBy reports whether hostID is registered and owned by userID.
func HostOwnedBy(hostID, userID string) (bool, error) {
	var count int64
	err := DB.Model(&models.Host{}).
		Where("host_id = ? AND owner_id = ?", hostID, userID).
		Count(&count).Error
	return count > 0, err
}
