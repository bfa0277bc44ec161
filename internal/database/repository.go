package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onbeat/onbeat-bot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidValue is returned when a setting is outside its allowed range.
var ErrInvalidValue = errors.New("value out of range")

// Repository handles guild configuration and bookkeeping rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository over the handle opened by Init.
func NewRepository() *Repository {
	return &Repository{db: DB}
}

// NewRepositoryWithDB creates a repository over an explicit handle.
func NewRepositoryWithDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetGuildConfig returns the guild's configuration, creating the default row
// on first access. Concurrent first reads converge on the same row.
func (r *Repository) GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	var cfg models.GuildConfig
	err := WithRetry(func() error {
		err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&cfg).Error
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		def := models.DefaultGuildConfig(guildID)
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&def).Error; err != nil {
			return err
		}
		return r.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&cfg).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get guild config %s: %w", guildID, err)
	}
	return &cfg, nil
}

// UpdateDJRole sets the DJ role. An empty roleID clears it.
func (r *Repository) UpdateDJRole(ctx context.Context, guildID, roleID string) (*models.GuildConfig, error) {
	return r.updateFields(ctx, guildID, map[string]any{"dj_role_id": roleID})
}

// UpdateVolume sets the default volume applied to new players.
func (r *Repository) UpdateVolume(ctx context.Context, guildID string, volume int) (*models.GuildConfig, error) {
	if volume < 0 || volume > models.MaxDefaultVolume {
		return nil, fmt.Errorf("volume %d: %w", volume, ErrInvalidValue)
	}
	return r.updateFields(ctx, guildID, map[string]any{"volume": volume})
}

// UpdateAutoDisconnect toggles idle disconnection. A nil seconds keeps the current delay.
func (r *Repository) UpdateAutoDisconnect(ctx context.Context, guildID string, enabled bool, seconds *int) (*models.GuildConfig, error) {
	fields := map[string]any{"auto_disconnect": enabled}
	if seconds != nil {
		if *seconds < 0 {
			return nil, fmt.Errorf("auto disconnect time %d: %w", *seconds, ErrInvalidValue)
		}
		fields["auto_disconnect_time"] = *seconds
	}
	return r.updateFields(ctx, guildID, fields)
}

// UpdateAnnounceSettings toggles announcements and sets the target channel.
// An empty channelID means announcements go to the channel the session was started from.
func (r *Repository) UpdateAnnounceSettings(ctx context.Context, guildID string, enabled bool, channelID string) (*models.GuildConfig, error) {
	return r.updateFields(ctx, guildID, map[string]any{
		"announce_songs":      enabled,
		"announce_channel_id": channelID,
	})
}

func (r *Repository) UpdateMaxQueueLength(ctx context.Context, guildID string, n int) (*models.GuildConfig, error) {
	if n < models.MinMaxQueueLength || n > models.MaxMaxQueueLength {
		return nil, fmt.Errorf("max queue length %d: %w", n, ErrInvalidValue)
	}
	return r.updateFields(ctx, guildID, map[string]any{"max_queue_length": n})
}

func (r *Repository) UpdateFiltersSetting(ctx context.Context, guildID string, allow bool) (*models.GuildConfig, error) {
	return r.updateFields(ctx, guildID, map[string]any{"allow_filters": allow})
}

func (r *Repository) UpdateExplicitSetting(ctx context.Context, guildID string, allow bool) (*models.GuildConfig, error) {
	return r.updateFields(ctx, guildID, map[string]any{"allow_explicit": allow})
}

// ResetGuildConfig replaces the guild's row with defaults.
func (r *Repository) ResetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	def := models.DefaultGuildConfig(guildID)
	err := WithRetry(func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.GuildConfig{}, "guild_id = ?", guildID).Error; err != nil {
				return err
			}
			def = models.DefaultGuildConfig(guildID)
			return tx.Create(&def).Error
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reset guild config %s: %w", guildID, err)
	}
	return &def, nil
}

// DeleteGuildConfig removes the guild's row, if any.
func (r *Repository) DeleteGuildConfig(ctx context.Context, guildID string) error {
	return WithRetry(func() error {
		return r.db.WithContext(ctx).Delete(&models.GuildConfig{}, "guild_id = ?", guildID).Error
	})
}

// CountGuildConfigs returns how many guilds have a stored configuration.
func (r *Repository) CountGuildConfigs(ctx context.Context) (int64, error) {
	var n int64
	err := WithRetry(func() error {
		return r.db.WithContext(ctx).Model(&models.GuildConfig{}).Count(&n).Error
	})
	return n, err
}

func (r *Repository) updateFields(ctx context.Context, guildID string, fields map[string]any) (*models.GuildConfig, error) {
	if _, err := r.GetGuildConfig(ctx, guildID); err != nil {
		return nil, err
	}
	fields["updated_at"] = time.Now()
	err := WithRetry(func() error {
		return r.db.WithContext(ctx).Model(&models.GuildConfig{}).
			Where("guild_id = ?", guildID).
			Updates(fields).Error
	})
	if err != nil {
		return nil, fmt.Errorf("update guild config %s: %w", guildID, err)
	}
	return r.GetGuildConfig(ctx, guildID)
}

func (r *Repository) UpsertServiceStatus(status *models.ServiceStatus) error {
	return WithRetry(func() error {
		return r.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "service_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "last_heartbeat", "details"}),
		}).Create(status).Error
	})
}

// IncrementTracksPlayed bumps the lifetime count of tracks started.
func (r *Repository) IncrementTracksPlayed(ctx context.Context) error {
	return r.IncrementStat(ctx, models.StatTracksPlayed)
}

// IncrementStat atomically adds one to the named counter.
func (r *Repository) IncrementStat(ctx context.Context, key string) error {
	return WithRetry(func() error {
		return r.db.WithContext(ctx).Model(&models.SystemStat{}).
			Where("stat_key = ?", key).
			Updates(map[string]any{
				"stat_value": gorm.Expr("stat_value + 1"),
				"updated_at": time.Now(),
			}).Error
	})
}

// GetStat returns the counter's value, or zero when it does not exist.
func (r *Repository) GetStat(ctx context.Context, key string) (int64, error) {
	var stat models.SystemStat
	err := WithRetry(func() error {
		return r.db.WithContext(ctx).Where("stat_key = ?", key).First(&stat).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return stat.StatValue, err
}

func (r *Repository) UpdateAPIHealthBulk(serviceName string, totalToAdd, successfulToAdd uint64) error {
	if totalToAdd == 0 && successfulToAdd == 0 {
		return nil
	}

	return WithRetry(func() error {
		row := models.APIHealthStat{
			ServiceName:        serviceName,
			TotalRequests:      totalToAdd,
			SuccessfulRequests: successfulToAdd,
		}
		return r.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "service_name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_requests":      gorm.Expr("api_health_stats.total_requests + ?", totalToAdd),
				"successful_requests": gorm.Expr("api_health_stats.successful_requests + ?", successfulToAdd),
			}),
		}).Create(&row).Error
	})
}

// GetAPIHealth returns the stored counters for a service.
func (r *Repository) GetAPIHealth(serviceName string) (*models.APIHealthStat, error) {
	var stat models.APIHealthStat
	err := WithRetry(func() error {
		return r.db.Where("service_name = ?", serviceName).First(&stat).Error
	})
	if err != nil {
		return nil, err
	}
	return &stat, nil
}
