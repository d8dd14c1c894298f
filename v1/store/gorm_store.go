package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faithconnect/member-service/v1/models"
	"gorm.io/gorm"
)

// GormStore keeps members in a relational table with the relationship array
// in a JSON column and a version column for conditional writes.
type GormStore struct {
	db     *gorm.DB
	policy RetryPolicy
}

// NewGormStore creates a store over an open GORM connection
func NewGormStore(db *gorm.DB, policy RetryPolicy) *GormStore {
	return &GormStore{db: db, policy: policy}
}

// Name returns the backend name
func (s *GormStore) Name() string {
	return "gorm:" + s.db.Dialector.Name()
}

// DB exposes the underlying connection for health checks
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// RunInTransaction runs fn in a database transaction and retries on conflict
func (s *GormStore) RunInTransaction(ctx context.Context, churchID string, fn func(tx Tx) error) error {
	return RetryTransaction(ctx, s.policy, func() error {
		return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			return fn(&gormTx{db: gtx, churchID: churchID})
		})
	})
}

// GetMember reads one member outside a transaction
func (s *GormStore) GetMember(ctx context.Context, churchID, memberID string) (*models.Member, error) {
	return (&gormTx{db: s.db.WithContext(ctx), churchID: churchID}).GetMember(memberID)
}

// ListMembers returns the church's members sorted by name
func (s *GormStore) ListMembers(ctx context.Context, churchID string, filter models.MemberFilter) ([]models.Member, error) {
	query := s.db.WithContext(ctx).Where("church_id = ?", churchID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Email != "" {
		query = query.Where("LOWER(email) = ?", strings.ToLower(filter.Email))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}

	var members []models.Member
	if err := query.Order("last_name ASC, first_name ASC, member_id ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// Ping checks the database connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db       *gorm.DB
	churchID string
}

func (t *gormTx) GetMember(memberID string) (*models.Member, error) {
	var member models.Member
	err := t.db.Where("church_id = ? AND member_id = ?", t.churchID, memberID).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get member %s: %w", memberID, err)
	}
	return &member, nil
}

func (t *gormTx) GetMembers(memberIDs []string) (map[string]*models.Member, error) {
	ids := uniqueIDs(memberIDs)
	result := make(map[string]*models.Member, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var members []models.Member
	if err := t.db.Where("church_id = ? AND member_id IN ?", t.churchID, ids).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	for i := range members {
		result[members[i].MemberID] = &members[i]
	}
	return result, nil
}

func (t *gormTx) ListMembers() ([]models.Member, error) {
	var members []models.Member
	if err := t.db.Where("church_id = ?", t.churchID).Order("member_id ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

func (t *gormTx) CreateMember(member *models.Member) error {
	member.ChurchID = t.churchID
	member.Version = 1
	if member.Relationships == nil {
		member.Relationships = models.Relationships{}
	}
	if err := t.db.Create(member).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

func (t *gormTx) SaveMember(member *models.Member) error {
	expected := member.Version
	now := time.Now().UTC()
	relationships := member.Relationships
	if relationships == nil {
		relationships = models.Relationships{}
	}

	result := t.db.Model(&models.Member{}).
		Where("church_id = ? AND member_id = ? AND version = ?", t.churchID, member.MemberID, expected).
		Updates(map[string]interface{}{
			"first_name":    member.FirstName,
			"last_name":     member.LastName,
			"email":         member.Email,
			"phone_number":  member.PhoneNumber,
			"address":       member.Address,
			"status":        member.Status,
			"birthday":      member.Birthday,
			"baptism_date":  member.BaptismDate,
			"anniversary":   member.Anniversary,
			"notes":         member.Notes,
			"user_id":       member.UserID,
			"photo_path":    member.PhotoPath,
			"relationships": relationships,
			"version":       expected + 1,
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save member %s: %w", member.MemberID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrConflict, member.MemberID, expected)
	}

	member.Version = expected + 1
	member.UpdatedAt = now
	return nil
}

func (t *gormTx) DeleteMember(member *models.Member) error {
	result := t.db.
		Where("church_id = ? AND member_id = ? AND version = ?", t.churchID, member.MemberID, member.Version).
		Delete(&models.Member{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete member %s: %w", member.MemberID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrConflict, member.MemberID, member.Version)
	}
	return nil
}
