package models

import (
	"time"
)

type ServiceStatus struct {
	ServiceName   string    `gorm:"primaryKey;column:service_name"`
	Status        string    `gorm:"column:status"`
	LastHeartbeat time.Time `gorm:"column:last_heartbeat"`
	Details       string    `gorm:"column:details"`
}

func (ServiceStatus) TableName() string {
	return "service_status"
}

// SystemStat holds key-value pairs for system-wide statistics.
type SystemStat struct {
	StatKey   string    `gorm:"primaryKey;column:stat_key"`
	StatValue int64     `gorm:"column:stat_value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SystemStat) TableName() string {
	return "system_stats"
}

// APIHealthStat counts calls made to an external service.
type APIHealthStat struct {
	ServiceName        string `gorm:"primaryKey;column:service_name"`
	TotalRequests      uint64 `gorm:"column:total_requests"`
	SuccessfulRequests uint64 `gorm:"column:successful_requests"`
}

func (APIHealthStat) TableName() string {
	return "api_health_stats"
}

const StatTracksPlayed = "total_tracks_played"
