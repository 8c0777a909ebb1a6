package firewall

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
	"github.com/matnordlund/netwall-flow-analyzer/internal/storage"
)

// Store is the GORM-backed repository for firewalls, firewall_overrides,
// and router_mac_rules (spec §3), grounded on the teacher's
// pkg/controlplane/store.GORMStore shape.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// ============================================
// FIREWALL IDENTITY
// ============================================

// Touch upserts a firewall row on any ingested record (spec §4.5),
// marking the appropriate source flag and advancing first/last_seen.
func (s *Store) Touch(ctx context.Context, deviceKey string, at time.Time, fromImport bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fw model.Firewall
		err := tx.Where("device_key = ?", deviceKey).First(&fw).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			fw = model.Firewall{
				DeviceKey:    deviceKey,
				DisplayName:  deviceKey,
				SourceSyslog: !fromImport,
				SourceImport: fromImport,
				FirstSeen:    at,
				LastSeen:     at,
			}
			if fromImport {
				fw.LastImportTS = &at
			}
			return tx.Create(&fw).Error
		case err != nil:
			return err
		}

		updates := map[string]interface{}{"last_seen": at}
		if fromImport {
			updates["source_import"] = true
			updates["last_import_ts"] = at
		} else {
			updates["source_syslog"] = true
		}
		if at.Before(fw.FirstSeen) {
			updates["first_seen"] = at
		}
		return tx.Model(&fw).Updates(updates).Error
	})
}

func (s *Store) Get(ctx context.Context, deviceKey string) (*model.Firewall, error) {
	var fw model.Firewall
	err := s.db.WithContext(ctx).Where("device_key = ?", deviceKey).First(&fw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, netwallerr.NotFound("firewall not found: " + deviceKey)
	}
	if err != nil {
		return nil, netwallerr.Internal(err)
	}
	return &fw, nil
}

func (s *Store) List(ctx context.Context) ([]model.Firewall, error) {
	var rows []model.Firewall
	if err := s.db.WithContext(ctx).Order("device_key").Find(&rows).Error; err != nil {
		return nil, netwallerr.Internal(err)
	}
	return rows, nil
}

// SetOverride upserts the user-managed display override (spec §6.1 PUT
// /firewalls/{device_key}).
func (s *Store) SetOverride(ctx context.Context, ov model.FirewallOverride) error {
	err := s.db.WithContext(ctx).
		Clauses(storage.OnConflictUpdate("device_key")).
		Create(&ov).Error
	if err != nil {
		return netwallerr.Internal(err)
	}
	return nil
}

// Purge deletes every row belonging to deviceKey across all hot-path and
// control-plane tables (spec §8 scenario 5, §7 busy/conflict handling is
// enforced by the caller via the job manager).
func (s *Store) Purge(ctx context.Context, deviceKey string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"events", "flows", "endpoint_overrides", "endpoints", "raw_logs"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE device_key = ?", deviceKey).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("device_key = ?", deviceKey).Delete(&model.RouterMACRule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("device_key = ?", deviceKey).Delete(&model.FirewallOverride{}).Error; err != nil {
			return err
		}
		return tx.Where("device_key = ?", deviceKey).Delete(&model.Firewall{}).Error
	})
}

// ============================================
// ROUTER-MAC RULES
// ============================================

func (s *Store) ListRouterMACRules(ctx context.Context, deviceKey string) ([]model.RouterMACRule, error) {
	var rows []model.RouterMACRule
	err := s.db.WithContext(ctx).Where("device_key = ?", deviceKey).Find(&rows).Error
	if err != nil {
		return nil, netwallerr.Internal(err)
	}
	return rows, nil
}

func (s *Store) SetRouterMACRule(ctx context.Context, rule model.RouterMACRule) error {
	err := s.db.WithContext(ctx).
		Clauses(storage.OnConflictUpdate("device_key", "mac")).
		Create(&rule).Error
	if err != nil {
		return netwallerr.Internal(err)
	}
	return nil
}

func (s *Store) DeleteRouterMACRule(ctx context.Context, deviceKey, mac string) error {
	err := s.db.WithContext(ctx).
		Where("device_key = ? AND mac = ?", deviceKey, mac).
		Delete(&model.RouterMACRule{}).Error
	if err != nil {
		return netwallerr.Internal(err)
	}
	return nil
}

// ============================================
// HA CLUSTERING
// ============================================

// HACandidates proposes unenabled HA pairs across all observed firewalls.
func (s *Store) HACandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return DetectCandidates(rows), nil
}

// EnableCluster materialises a synthetic "ha:" firewall row unioning base
// +suffix peers (spec §4.5). Individual member rows are left intact;
// query paths resolve the cluster by expanding ClusterMembers.
func (s *Store) EnableCluster(ctx context.Context, base string) error {
	now := time.Now().UTC()
	fw := model.Firewall{
		DeviceKey:    ClusterKey(base),
		DisplayName:  base + " (HA)",
		SourceSyslog: true,
		FirstSeen:    now,
		LastSeen:     now,
	}
	err := s.db.WithContext(ctx).
		Clauses(storage.OnConflictUpdate("device_key")).
		Create(&fw).Error
	if err != nil {
		return netwallerr.Internal(err)
	}
	return nil
}

// ResolveMembers expands a device_key into the physical device_keys a
// query should union (spec §4.9 step 2): for an "ha:" key, the actually
// observed base+suffix rows; otherwise the key itself.
func (s *Store) ResolveMembers(ctx context.Context, deviceKey string) ([]string, error) {
	if !IsHACluster(deviceKey) {
		return []string{deviceKey}, nil
	}
	base := ClusterBase(deviceKey)
	candidates := ClusterMembers(base)

	var rows []model.Firewall
	if err := s.db.WithContext(ctx).Where("device_key IN ?", candidates).Find(&rows).Error; err != nil {
		return nil, netwallerr.Internal(err)
	}
	members := make([]string, 0, len(rows))
	for _, r := range rows {
		members = append(members, r.DeviceKey)
	}
	if len(members) == 0 {
		return nil, netwallerr.NotFound("no members for HA cluster: " + deviceKey)
	}
	return members, nil
}
