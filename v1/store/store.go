// Package store persists member documents per church and runs multi-document
// transactions with optimistic version checks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/faithconnect/member-service/v1/models"
)

var (
	// ErrNotFound is returned when a member does not exist in the church
	ErrNotFound = errors.New("member not found")
	// ErrAlreadyExists is returned when creating a member whose id is taken
	ErrAlreadyExists = errors.New("member already exists")
	// ErrConflict is returned when a conditional write lost a race. The
	// transaction runner retries on it.
	ErrConflict = errors.New("member was modified concurrently")
)

// Store is the member document store shared by every backend
type Store interface {
	// RunInTransaction runs fn against one church partition. All reads inside
	// fn happen before any write becomes visible, and either every write
	// commits or none does. fn may be invoked more than once on conflict.
	RunInTransaction(ctx context.Context, churchID string, fn func(tx Tx) error) error
	GetMember(ctx context.Context, churchID, memberID string) (*models.Member, error)
	ListMembers(ctx context.Context, churchID string, filter models.MemberFilter) ([]models.Member, error)
	Ping(ctx context.Context) error
	Close() error
	Name() string
}

// Tx is the view of one church partition inside a transaction
type Tx interface {
	GetMember(memberID string) (*models.Member, error)
	// GetMembers returns the members that exist; missing ids are omitted
	GetMembers(memberIDs []string) (map[string]*models.Member, error)
	ListMembers() ([]models.Member, error)
	CreateMember(member *models.Member) error
	// SaveMember writes the member if its stored version still equals
	// member.Version, then bumps member.Version.
	SaveMember(member *models.Member) error
	DeleteMember(member *models.Member) error
}

// RetryPolicy bounds the conflict retries of RunInTransaction
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy mirrors the contention retry budget of hosted document stores
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
