package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/faithconnect/member-service/v1/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every backend must share. Each
// subtest uses its own church so a shared database can be reused.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	newChurch := func() string { return "church_" + uuid.NewString()[:8] }

	create := func(t *testing.T, churchID string, members ...*models.Member) {
		t.Helper()
		err := s.RunInTransaction(ctx, churchID, func(tx Tx) error {
			for _, m := range members {
				if err := tx.CreateMember(m); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}

	t.Run("create and get", func(t *testing.T) {
		church := newChurch()
		create(t, church, &models.Member{
			MemberID:  "a",
			FirstName: "Ann",
			LastName:  "Lee",
			Status:    models.MemberStatusActive,
			Relationships: models.Relationships{
				{MemberIDs: []string{"a", "b"}, Type: models.RelationshipSpouse, Anniversary: "2010-06-01"},
			},
		})

		got, err := s.GetMember(ctx, church, "a")
		require.NoError(t, err)
		assert.Equal(t, church, got.ChurchID)
		assert.Equal(t, "Ann", got.FirstName)
		assert.Equal(t, int64(1), got.Version)
		require.Len(t, got.Relationships, 1)
		assert.Equal(t, []string{"a", "b"}, got.Relationships[0].MemberIDs)
		assert.Equal(t, "2010-06-01", got.Relationships[0].Anniversary)
	})

	t.Run("get missing member", func(t *testing.T) {
		_, err := s.GetMember(ctx, newChurch(), "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		church := newChurch()
		create(t, church, &models.Member{MemberID: "a", FirstName: "Ann", Status: models.MemberStatusActive})

		_, err := s.GetMember(ctx, newChurch(), "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate create", func(t *testing.T) {
		church := newChurch()
		create(t, church, &models.Member{MemberID: "a", FirstName: "Ann", Status: models.MemberStatusActive})

		err := s.RunInTransaction(ctx, church, func(tx Tx) error {
			return tx.CreateMember(&models.Member{MemberID: "a", FirstName: "Again", Status: models.MemberStatusActive})
		})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("save bumps version", func(t *testing.T) {
		church := newChurch()
		create(t, church, &models.Member{MemberID: "a", FirstName: "Ann", Status: models.MemberStatusActive})

		err := s.RunInTransaction(ctx, church, func(tx Tx) error {
			m, err := tx.GetMember("a")
			if err != nil {
				return err
			}
			m.FirstName = "Anna"
			m.Relationships = models.Relationships{{MemberIDs: []string{"a", "c"}, Type: models.RelationshipSibling}}
			return tx.SaveMember(m)
		})
		require.NoError(t, err)

		got, err := s.GetMember(ctx, church, "a")
		require.NoError(t, err)
		assert.Equal(t, "Anna", got.FirstName)
		assert.Equal(t, int64(2), got.Version)
		assert.Len(t, got.Relationships, 1)
	})

	t.Run("stale save conflicts", func(t *testing.T) {
		church := newChurch()
		create(t, church, &models.Member{MemberID: "a", FirstName: "Ann", Status: models.MemberStatusActive})

		attempts := 0
		err := s.RunInTransaction(ctx, church, func(tx Tx) error {
			attempts++
			return tx.SaveMember(&models.Member{MemberID: "a", FirstName: "Stale", Status: models.MemberStatusActive, Version: 42})
		})
		assert.ErrorIs(t, err, ErrConflict)
		assert.Greater(t, attempts, 1)

		got, err := s.GetMember(ctx, church, "a")
		require.NoError(t, err)
		assert.Equal(t, "Ann", got.FirstName)
	})

	t.Run("failed transaction writes nothing", func(t *testing.T) {
		church := newChurch()
		create(t, church, &models.Member{MemberID: "a", FirstName: "Ann", Status: models.MemberStatusActive})

		boom := errors.New("boom")
		err := s.RunInTransaction(ctx, church, func(tx Tx) error {
			m, err := tx.GetMember("a")
			if err != nil {
				return err
			}
			m.FirstName = "Changed"
			if err := tx.SaveMember(m); err != nil {
				return err
			}
			if err := tx.CreateMember(&models.Member{MemberID: "b", FirstName: "Ben", Status: models.MemberStatusActive}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetMember(ctx, church, "a")
		require.NoError(t, err)
		assert.Equal(t, "Ann", got.FirstName)
		assert.Equal(t, int64(1), got.Version)
		_, err = s.GetMember(ctx, church, "b")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("get members omits missing ids", func(t *testing.T) {
		church := newChurch()
		create(t, church,
			&models.Member{MemberID: "a", FirstName: "Ann", Status: models.MemberStatusActive},
			&models.Member{MemberID: "b", FirstName: "Ben", Status: models.MemberStatusActive},
		)

		var found map[string]*models.Member
		err := s.RunInTransaction(ctx, church, func(tx Tx) error {
			var err error
			found, err = tx.GetMembers([]string{"a", "ghost", "b", "a", ""})
			return err
		})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.Contains(t, found, "a")
		assert.Contains(t, found, "b")
	})

	t.Run("delete", func(t *testing.T) {
		church := newChurch()
		create(t, church, &models.Member{MemberID: "a", FirstName: "Ann", Status: models.MemberStatusActive})

		err := s.RunInTransaction(ctx, church, func(tx Tx) error {
			m, err := tx.GetMember("a")
			if err != nil {
				return err
			}
			return tx.DeleteMember(m)
		})
		require.NoError(t, err)

		_, err = s.GetMember(ctx, church, "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list filters and sorts", func(t *testing.T) {
		church := newChurch()
		create(t, church,
			&models.Member{MemberID: "m1", FirstName: "Zoe", LastName: "Adams", Email: "zoe@example.org", Status: models.MemberStatusActive},
			&models.Member{MemberID: "m2", FirstName: "Amy", LastName: "Adams", Status: models.MemberStatusProspect},
			&models.Member{MemberID: "m3", FirstName: "Bob", LastName: "Baker", Status: models.MemberStatusActive, UserID: "u-3"},
		)

		all, err := s.ListMembers(ctx, church, models.MemberFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"m2", "m1", "m3"}, memberIDs(all))

		active, err := s.ListMembers(ctx, church, models.MemberFilter{Status: models.MemberStatusActive})
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m3"}, memberIDs(active))

		search, err := s.ListMembers(ctx, church, models.MemberFilter{Query: "ZOE@"})
		require.NoError(t, err)
		assert.Equal(t, []string{"m1"}, memberIDs(search))

		linked, err := s.ListMembers(ctx, church, models.MemberFilter{UserID: "u-3"})
		require.NoError(t, err)
		assert.Equal(t, []string{"m3"}, memberIDs(linked))
	})
}

func memberIDs(members []models.Member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.MemberID
	}
	return ids
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore(WithRetryPolicy(fastPolicy(3))))
}

func TestMemoryStore_ConcurrentCommitConflictsAndRetries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithRetryPolicy(fastPolicy(3)))
	s.Seed("c1", &models.Member{MemberID: "a", FirstName: "Ann"})

	attempts := 0
	err := s.RunInTransaction(ctx, "c1", func(tx Tx) error {
		attempts++
		m, err := tx.GetMember("a")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// another writer commits between our read and our commit
			require.NoError(t, s.RunInTransaction(ctx, "c1", func(other Tx) error {
				o, err := other.GetMember("a")
				if err != nil {
					return err
				}
				o.Notes = "other writer"
				return other.SaveMember(o)
			}))
		}
		m.FirstName = fmt.Sprintf("Ann %d", attempts)
		return tx.SaveMember(m)
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	got, err := s.GetMember(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Equal(t, "Ann 2", got.FirstName)
	assert.Equal(t, "other writer", got.Notes)
	assert.Equal(t, int64(3), got.Version)
}

func TestMemoryStore_ReadSetInvalidationConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithRetryPolicy(fastPolicy(1)))
	s.Seed("c1",
		&models.Member{MemberID: "a", FirstName: "Ann"},
		&models.Member{MemberID: "b", FirstName: "Ben"},
	)

	err := s.RunInTransaction(ctx, "c1", func(tx Tx) error {
		if _, err := tx.GetMember("b"); err != nil {
			return err
		}
		require.NoError(t, s.RunInTransaction(ctx, "c1", func(other Tx) error {
			return other.DeleteMember(&models.Member{MemberID: "b", Version: 1})
		}))
		a, err := tx.GetMember("a")
		if err != nil {
			return err
		}
		a.Notes = "depends on b"
		return tx.SaveMember(a)
	})

	assert.ErrorIs(t, err, ErrConflict)
	got, err := s.GetMember(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Empty(t, got.Notes)
}

func TestMemoryStore_CommitHookAbortsAtomically(t *testing.T) {
	ctx := context.Background()
	hookErr := errors.New("commit failed")
	s := NewMemoryStore(WithCommitHook(func(churchID string, writes int) error {
		return hookErr
	}))
	s.Seed("c1", &models.Member{MemberID: "a", FirstName: "Ann"})

	err := s.RunInTransaction(ctx, "c1", func(tx Tx) error {
		a, err := tx.GetMember("a")
		if err != nil {
			return err
		}
		a.FirstName = "Changed"
		if err := tx.SaveMember(a); err != nil {
			return err
		}
		return tx.CreateMember(&models.Member{MemberID: "b", FirstName: "Ben"})
	})

	assert.ErrorIs(t, err, hookErr)
	assert.Equal(t, 1, s.Count("c1"))
	got, _ := s.GetMember(ctx, "c1", "a")
	assert.Equal(t, "Ann", got.FirstName)
}

func TestMemoryStore_ReadYourWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed("c1", &models.Member{MemberID: "a", FirstName: "Ann"})

	err := s.RunInTransaction(ctx, "c1", func(tx Tx) error {
		if err := tx.CreateMember(&models.Member{MemberID: "b", FirstName: "Ben"}); err != nil {
			return err
		}
		a, err := tx.GetMember("a")
		if err != nil {
			return err
		}
		if err := tx.DeleteMember(a); err != nil {
			return err
		}

		list, err := tx.ListMembers()
		if err != nil {
			return err
		}
		assert.Equal(t, []string{"b"}, memberIDs(list))
		_, err = tx.GetMember("a")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count("c1"))
}

func TestMemoryStore_ReturnedMembersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed("c1", &models.Member{
		MemberID:      "a",
		FirstName:     "Ann",
		Relationships: models.Relationships{{MemberIDs: []string{"a", "b"}, Type: "Spouse"}},
	})

	got, err := s.GetMember(ctx, "c1", "a")
	require.NoError(t, err)
	got.Relationships[0].Type = "Sibling"
	got.Relationships[0].MemberIDs[1] = "x"

	again, err := s.GetMember(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Equal(t, "Spouse", again.Relationships[0].Type)
	assert.Equal(t, "b", again.Relationships[0].MemberIDs[1])
}
