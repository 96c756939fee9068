package db

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ilp-connector/pkg/model"
	"ilp-connector/pkg/store"
)

type peerRow struct {
	ID         string `gorm:"primaryKey;size:191"`
	AssetCode  string `gorm:"size:16"`
	AssetScale int
	Relation   string `gorm:"size:16"`
	Rules      string `gorm:"type:text"`
	Protocols  string `gorm:"type:text"`
	Endpoint   string `gorm:"type:text"`
	UpdatedAt  time.Time
}

func (peerRow) TableName() string { return "peers" }

type routeRow struct {
	Prefix string `gorm:"primaryKey;size:191"`
	PeerID string `gorm:"index;size:191"`
	Path   string `gorm:"type:text"`
}

func (routeRow) TableName() string { return "routes" }

// Store implements store.Store on a gorm connection.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ListPeers() ([]model.PeerRecord, error) {
	var rows []peerRow
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	out := make([]model.PeerRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r peerRow) record() (model.PeerRecord, error) {
	rec := model.PeerRecord{Info: model.PeerInfo{
		ID:         r.ID,
		AssetCode:  r.AssetCode,
		AssetScale: r.AssetScale,
		Relation:   model.Relation(r.Relation),
	}}
	if r.Rules != "" {
		if err := json.Unmarshal([]byte(r.Rules), &rec.Info.Rules); err != nil {
			return rec, fmt.Errorf("decode rules of %s: %w", r.ID, err)
		}
	}
	if r.Protocols != "" {
		if err := json.Unmarshal([]byte(r.Protocols), &rec.Info.Protocols); err != nil {
			return rec, fmt.Errorf("decode protocols of %s: %w", r.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(r.Endpoint), &rec.Endpoint); err != nil {
		return rec, fmt.Errorf("decode endpoint of %s: %w", r.ID, err)
	}
	return rec, nil
}

func (s *Store) SavePeer(p model.PeerRecord) error {
	rules, err := json.Marshal(p.Info.Rules)
	if err != nil {
		return err
	}
	protocols, err := json.Marshal(p.Info.Protocols)
	if err != nil {
		return err
	}
	ep, err := json.Marshal(p.Endpoint)
	if err != nil {
		return err
	}
	row := peerRow{
		ID:         p.Info.ID,
		AssetCode:  p.Info.AssetCode,
		AssetScale: p.Info.AssetScale,
		Relation:   string(p.Info.Relation),
		Rules:      string(rules),
		Protocols:  string(protocols),
		Endpoint:   string(ep),
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save peer %s: %w", p.Info.ID, err)
	}
	return nil
}

func (s *Store) DeletePeer(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&peerRow{})
		if res.Error != nil {
			return fmt.Errorf("delete peer %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("peer %s: %w", id, store.ErrNotFound)
		}
		if err := tx.Where("peer_id = ?", id).Delete(&routeRow{}).Error; err != nil {
			return fmt.Errorf("delete routes of %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) ListRoutes() ([]model.Route, error) {
	var rows []routeRow
	if err := s.db.Order("prefix").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	out := make([]model.Route, 0, len(rows))
	for _, r := range rows {
		route := model.Route{Prefix: r.Prefix, PeerID: r.PeerID}
		if r.Path != "" {
			if err := json.Unmarshal([]byte(r.Path), &route.Path); err != nil {
				return nil, fmt.Errorf("decode route path: %w", err)
			}
		}
		out = append(out, route)
	}
	return out, nil
}

func (s *Store) SaveRoute(r model.Route) error {
	row := routeRow{Prefix: r.Prefix, PeerID: r.PeerID}
	if len(r.Path) > 0 {
		b, err := json.Marshal(r.Path)
		if err != nil {
			return err
		}
		row.Path = string(b)
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save route %q: %w", r.Prefix, err)
	}
	return nil
}

func (s *Store) DeleteRoute(prefix string) error {
	res := s.db.Where("prefix = ?", prefix).Delete(&routeRow{})
	if res.Error != nil {
		return fmt.Errorf("delete route %q: %w", prefix, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("route %q: %w", prefix, store.ErrNotFound)
	}
	return nil
}

// Ping reports readiness for health endpoints.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
