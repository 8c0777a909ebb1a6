// Package settings manages the generic setting(name, value_json) table
// and the housekeeping (retention cleanup) that reads it (spec §4.10,
// C10).
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
	"github.com/matnordlund/netwall-flow-analyzer/internal/storage"
)

// refreshInterval is the read-through cache's background refresh period
// (spec §5: "Settings cache: read-mostly, refreshed on write or every 30
// s").
const refreshInterval = 30 * time.Second

// Store is the GORM-backed settings repository with a read-mostly
// in-memory cache, grounded on the teacher's
// pkg/controlplane/runtime/settings_watcher.go cache-and-invalidate
// pattern.
type Store struct {
	db *gorm.DB

	mu    sync.RWMutex
	cache map[string]string
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, cache: make(map[string]string)}
}

// Run refreshes the cache every refreshInterval until ctx is canceled.
func (s *Store) Run(ctx context.Context) {
	if err := s.reload(ctx); err != nil {
		logger.Warn("initial settings load failed", "error", err)
	}
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reload(ctx); err != nil {
				logger.Warn("settings refresh failed", "error", err)
			}
		}
	}
}

func (s *Store) reload(ctx context.Context) error {
	var rows []model.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return err
	}
	next := make(map[string]string, len(rows))
	for _, r := range rows {
		next[r.Name] = r.ValueJSON
	}
	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()
	return nil
}

// Get returns the raw JSON value for name, reading through the cache.
func (s *Store) Get(ctx context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	v, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return v, true, nil
	}

	var row model.Setting
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, netwallerr.Internal(err)
	}
	s.mu.Lock()
	s.cache[name] = row.ValueJSON
	s.mu.Unlock()
	return row.ValueJSON, true, nil
}

// Set upserts name and refreshes the cache entry immediately.
func (s *Store) Set(ctx context.Context, name string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return netwallerr.Wrap(netwallerr.KindValidation, err, "invalid setting value")
	}

	row := model.Setting{Name: name, ValueJSON: string(body), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).
		Clauses(storage.OnConflictUpdate("name")).
		Create(&row).Error
	if err != nil {
		return netwallerr.Internal(err)
	}

	s.mu.Lock()
	s.cache[name] = row.ValueJSON
	s.mu.Unlock()
	return nil
}

// All returns every known setting as raw JSON, for GET /settings.
func (s *Store) All(ctx context.Context) (map[string]json.RawMessage, error) {
	var rows []model.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, netwallerr.Internal(err)
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		out[r.Name] = json.RawMessage(r.ValueJSON)
	}
	return out, nil
}

// LogRetention reads the log_retention setting, defaulting to disabled.
func (s *Store) LogRetention(ctx context.Context) (model.LogRetentionSetting, error) {
	var v model.LogRetentionSetting
	raw, ok, err := s.Get(ctx, model.SettingLogRetention)
	if err != nil || !ok {
		return v, err
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, netwallerr.Wrap(netwallerr.KindInternal, err, "corrupt log_retention setting")
	}
	return v, nil
}

// SetLogRetention validates and stores the log_retention setting (spec
// §6.1 PUT /settings/log-retention).
func (s *Store) SetLogRetention(ctx context.Context, v model.LogRetentionSetting) error {
	if v.KeepDays < 1 || v.KeepDays > 365 {
		return netwallerr.Validation("keep_days", "must be between 1 and 365")
	}
	return s.Set(ctx, model.SettingLogRetention, v)
}

// LocalNetworks reads the local_networks setting, defaulting to disabled.
func (s *Store) LocalNetworks(ctx context.Context) (model.LocalNetworksSetting, error) {
	var v model.LocalNetworksSetting
	raw, ok, err := s.Get(ctx, model.SettingLocalNetworks)
	if err != nil || !ok {
		return v, err
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, netwallerr.Wrap(netwallerr.KindInternal, err, "corrupt local_networks setting")
	}
	return v, nil
}

// SetLocalNetworks validates and stores the local_networks setting (spec
// §6.1 PUT /settings/local-networks), normalising every CIDR to network
// form.
func (s *Store) SetLocalNetworks(ctx context.Context, v model.LocalNetworksSetting) error {
	normalized, err := normalizeCIDRs(v.CIDRs)
	if err != nil {
		return err
	}
	v.CIDRs = normalized
	return s.Set(ctx, model.SettingLocalNetworks, v)
}
