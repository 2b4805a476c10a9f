// Package storage is the session store: durable rows for clients,
// pairings, relay messages and abuse reports. It is the single source
// of truth the presence registry, matchmaker and relay read and write.
package storage

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"pairgo/backend/internal/models"
)

// Service wraps the database handle. All queries go through here so the
// rest of the code never touches gorm directly.
type Service struct {
	DB *gorm.DB
}

// NewService creates a storage service on an opened database.
func NewService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Migrate creates or updates the schema for every model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Client{},
		&models.Pairing{},
		&models.RelayMessage{},
		&models.Report{},
	)
}

// --- clients ---

// SaveClient inserts or updates a client row.
func (s *Service) SaveClient(c *models.Client) error {
	return s.DB.Save(c).Error
}

// GetClient returns the client row, or (nil, nil) when it no longer
// exists.
func (s *Service) GetClient(id string) (*models.Client, error) {
	var c models.Client
	err := s.DB.First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteClient removes the presence row on session teardown.
func (s *Service) DeleteClient(id string) error {
	return s.DB.Delete(&models.Client{}, "id = ?", id).Error
}

// TransitionClient performs the guarded presence transition
// from -> to. It reports false when the row is missing or no longer in
// the from state, which is how concurrent claims lose the race.
func (s *Service) TransitionClient(id string, from, to models.PresenceState) (bool, error) {
	res := s.DB.Model(&models.Client{}).
		Where("id = ? AND presence_state = ?", id, from).
		Updates(map[string]interface{}{
			"presence_state": to,
			"last_active":    time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetClientMode updates the preferred mode.
func (s *Service) SetClientMode(id string, mode models.ChatMode) error {
	return s.DB.Model(&models.Client{}).
		Where("id = ?", id).
		Update("mode", mode).Error
}

// Heartbeat refreshes last_active; a missing row is not an error.
func (s *Service) Heartbeat(id string, at time.Time) error {
	return s.DB.Model(&models.Client{}).
		Where("id = ?", id).
		Update("last_active", at).Error
}

// CountOnline returns the number of known clients, optionally filtered
// by mode. Approximate by design; display only.
func (s *Service) CountOnline(mode models.ChatMode) (int64, error) {
	q := s.DB.Model(&models.Client{})
	if mode != "" {
		q = q.Where("mode = ?", mode)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// AvailableCandidates returns claimable partners for a requester:
// available, same mode, not the requester, heartbeat fresher than
// activeAfter; most recently active first, id as the stable tie-break.
func (s *Service) AvailableCandidates(requesterID string, mode models.ChatMode, activeAfter time.Time, limit int) ([]models.Client, error) {
	var out []models.Client
	err := s.DB.
		Where("presence_state = ? AND mode = ? AND id <> ? AND last_active > ?",
			models.StateAvailable, mode, requesterID, activeAfter).
		Order("last_active DESC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// --- pairings ---

// CreatePairing inserts the pairing row committed by the matchmaker.
func (s *Service) CreatePairing(p *models.Pairing) error {
	return s.DB.Create(p).Error
}

// GetPairing returns the pairing, or (nil, nil) when unknown.
func (s *Service) GetPairing(id string) (*models.Pairing, error) {
	var p models.Pairing
	err := s.DB.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActivePairingFor returns the active pairing a client belongs to, or
// (nil, nil) when there is none. By invariant there is at most one.
func (s *Service) ActivePairingFor(clientID string) (*models.Pairing, error) {
	var p models.Pairing
	err := s.DB.
		Where("status = ?", models.PairingActive).
		Where("initiator_id = ? OR responder_id = ?", clientID, clientID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EndPairing marks the pairing ended. Idempotent: an already-ended
// pairing is left untouched.
func (s *Service) EndPairing(id string) error {
	now := time.Now()
	return s.DB.Model(&models.Pairing{}).
		Where("id = ? AND status = ?", id, models.PairingActive).
		Updates(map[string]interface{}{
			"status":   models.PairingEnded,
			"ended_at": &now,
		}).Error
}

// --- relay messages ---

// AppendMessage appends a relay message; the database assigns the
// monotonically increasing id that fixes creation order.
func (s *Service) AppendMessage(m *models.RelayMessage) error {
	if err := s.DB.Create(m).Error; err != nil {
		return fmt.Errorf("append relay message: %w", err)
	}
	return nil
}

// MessagesSince returns all messages of a pairing with id greater than
// sinceID, in creation order.
func (s *Service) MessagesSince(pairingID string, sinceID uint) ([]models.RelayMessage, error) {
	var out []models.RelayMessage
	err := s.DB.
		Where("pairing_id = ? AND id > ?", pairingID, sinceID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// ChatHistory returns the non-signal messages of a pairing in creation
// order.
func (s *Service) ChatHistory(pairingID string) ([]models.RelayMessage, error) {
	var out []models.RelayMessage
	err := s.DB.
		Where("pairing_id = ? AND kind = ?", pairingID, models.KindChatText).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// RecentMessageIDs returns the ids of the latest chat messages in a
// pairing, oldest first, for capture on an abuse report.
func (s *Service) RecentMessageIDs(pairingID string, limit int) ([]string, error) {
	var ids []uint
	err := s.DB.Model(&models.RelayMessage{}).
		Where("pairing_id = ? AND kind = ?", pairingID, models.KindChatText).
		Order("id DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, strconv.FormatUint(uint64(ids[i]), 10))
	}
	return out, nil
}

// --- reports ---

// CreateReport persists an abuse report.
func (s *Service) CreateReport(r *models.Report) error {
	if r.Status == "" {
		r.Status = models.ReportStatusNew
	}
	return s.DB.Create(r).Error
}

// ListReports returns reports, optionally filtered by status, newest
// first.
func (s *Service) ListReports(status string) ([]models.Report, error) {
	q := s.DB.Model(&models.Report{}).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Report
	err := q.Find(&out).Error
	return out, err
}

// MarkReportReviewed flips a report to the reviewed status.
func (s *Service) MarkReportReviewed(id uint) error {
	return s.DB.Model(&models.Report{}).
		Where("id = ?", id).
		Update("status", models.ReportStatusReviewed).Error
}
