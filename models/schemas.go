package models

// Request payloads shared between the HTTP layer and tests. Binding tags
// follow gin's validator conventions.

type HostRegistration struct {
	HostID       string   `json:"host_id" binding:"required"`
	GPUModel     string   `json:"gpu_model" binding:"required"`
	GPUMemory    string   `json:"gpu_memory" binding:"required"`
	GPUCount     int      `json:"gpu_count" binding:"omitempty,min=1"`
	CPUCores     int      `json:"cpu_cores" binding:"omitempty,min=1"`
	RAMGB        int      `json:"ram_gb" binding:"omitempty,min=1"`
	StorageGB    int      `json:"storage_gb" binding:"omitempty,min=1"`
	PricePerHour float64  `json:"price_per_hour" binding:"required,gt=0"`
	Location     string   `json:"location"`
	Tags         []string `json:"tags"`
}

type HostAvailability struct {
	IsAvailable bool `json:"is_available"`
}

type JobSubmission struct {
	Title            string  `json:"title" binding:"required"`
	Description      string  `json:"description"`
	Command          string  `json:"command" binding:"required"`
	DockerImage      string  `json:"docker_image"`
	CodeArchiveURL   string  `json:"code_archive_url" binding:"omitempty,url"`
	HostID           string  `json:"host_id"` // preferred host, optional
	GPUCountRequired int     `json:"gpu_count_required" binding:"omitempty,min=1"`
	MemoryGBRequired int     `json:"memory_gb_required" binding:"omitempty,min=1"`
	MaxRuntimeHours  float64 `json:"max_runtime_hours" binding:"omitempty,gt=0"`
	MakePublic       bool    `json:"make_public"`
}

type RoleSwitch struct {
	Role UserRole `json:"role" binding:"required,oneof=renter host"`
}
