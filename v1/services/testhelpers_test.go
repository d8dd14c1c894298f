package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/faithconnect/member-service/v1/models"
	"github.com/faithconnect/member-service/v1/store"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testChurch = "church-1"

func testPolicy(attempts int) store.RetryPolicy {
	return store.RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

// setupSQLiteStore creates a GORM store over an in-memory SQLite database
func setupSQLiteStore(t *testing.T) *store.GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Member{}))
	return store.NewGormStore(db, testPolicy(3))
}

func staffSession(churchID string) *models.Session {
	return models.NewSession(&models.AuthenticatedUser{
		IdpUserID: "staff-1",
		ChurchID:  churchID,
		Roles:     []models.Role{models.RoleStaff},
	})
}

func memberSession(churchID, userID string) *models.Session {
	return models.NewSession(&models.AuthenticatedUser{
		IdpUserID: userID,
		ChurchID:  churchID,
		Roles:     []models.Role{models.RoleMember},
	})
}

// recordingPublisher captures published member changes
type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.MemberChangedEvent
	err    error
}

func (p *recordingPublisher) PublishMemberChanged(ctx context.Context, event *models.MemberChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) snapshot() []*models.MemberChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.MemberChangedEvent(nil), p.events...)
}

func mustGet(t *testing.T, s store.Store, memberID string) *models.Member {
	t.Helper()
	m, err := s.GetMember(context.Background(), testChurch, memberID)
	require.NoError(t, err)
	return m
}

func addMember(t *testing.T, svc *MemberService, id string, rels ...models.RelationshipRequest) {
	t.Helper()
	_, err := svc.AddMember(context.Background(), staffSession(testChurch), &models.CreateMemberRequest{
		MemberID:      id,
		FirstName:     id,
		LastName:      "Doe",
		Relationships: rels,
	})
	require.NoError(t, err)
}

func rel(partnerID, typ string) models.RelationshipRequest {
	return models.RelationshipRequest{MemberID: partnerID, Type: typ}
}

func setRelationships(rels ...models.RelationshipRequest) *models.UpdateMemberRequest {
	if rels == nil {
		rels = []models.RelationshipRequest{}
	}
	return &models.UpdateMemberRequest{Relationships: &rels}
}

// requireSymmetric fails when any edge lacks a matching back edge. Edges to
// members that do not exist are tolerated.
func requireSymmetric(t *testing.T, s store.Store) {
	t.Helper()
	members, err := s.ListMembers(context.Background(), testChurch, models.MemberFilter{})
	require.NoError(t, err)
	for _, issue := range scanMembers(testChurch, members).Issues {
		if issue.Kind == models.IssueOrphan {
			continue
		}
		t.Fatalf("asymmetric edge %s -> %s (%s): %s", issue.MemberID, issue.PartnerID, issue.Type, issue.Kind)
	}
}
