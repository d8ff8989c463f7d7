package models

import "time"

// Host is a GPU device registration. HostID is owner-chosen and globally
// unique; IsOnline is derived from live channel presence and is never set
// directly by the owner.
type Host struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	HostID  string `json:"host_id" gorm:"uniqueIndex;not null"`
	OwnerID string `json:"owner_id" gorm:"index;not null"`

	GPUModel  string `json:"gpu_model" gorm:"not null"`
	GPUMemory string `json:"gpu_memory" gorm:"not null"`
	GPUCount  int    `json:"gpu_count" gorm:"default:1"`
	CPUCores  int    `json:"cpu_cores,omitempty"`
	RAMGB     int    `json:"ram_gb,omitempty"`
	StorageGB int    `json:"storage_gb,omitempty"`

	PricePerHour float64 `json:"price_per_hour" gorm:"not null"`
	IsOnline     bool    `json:"is_online" gorm:"default:false"`
	IsAvailable  bool    `json:"is_available" gorm:"default:true"`

	Location string `json:"location,omitempty"`
	Tags     string `json:"tags,omitempty"` // JSON-encoded list

	UptimePercentage   float64 `json:"uptime_percentage" gorm:"default:0"`
	TotalJobsCompleted int     `json:"total_jobs_completed" gorm:"default:0"`
	TotalEarnings      float64 `json:"total_earnings" gorm:"default:0"`

	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fits reports whether the host satisfies a job's resource requirements.
// Memory is compared against system RAM; a zero requirement matches anything.
func (h *Host) Fits(gpuCount, memoryGB int) bool {
	if h.GPUCount < gpuCount {
		return false
	}
	if memoryGB > 0 && h.RAMGB > 0 && h.RAMGB < memoryGB {
		return false
	}
	return true
}
