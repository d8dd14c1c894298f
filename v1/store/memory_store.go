package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/faithconnect/member-service/v1/models"
)

// MemoryStore keeps members in process. Transactions buffer their writes and
// validate every read and written version at commit, so concurrent callers
// see the same conflict behavior as the database backends.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[string]map[string]*models.Member
	policy  RetryPolicy

	// commitHook runs with the lock held, before any buffered write is
	// applied. A non-nil error aborts the commit.
	commitHook func(churchID string, writes int) error
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithCommitHook installs a function called before each commit is applied
func WithCommitHook(hook func(churchID string, writes int) error) MemoryOption {
	return func(s *MemoryStore) {
		s.commitHook = hook
	}
}

// WithRetryPolicy overrides the conflict retry policy
func WithRetryPolicy(policy RetryPolicy) MemoryOption {
	return func(s *MemoryStore) {
		s.policy = policy
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		members: make(map[string]map[string]*models.Member),
		policy:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the backend name
func (s *MemoryStore) Name() string {
	return "memory"
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// GetMember returns a copy of the stored member
func (s *MemoryStore) GetMember(ctx context.Context, churchID, memberID string) (*models.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[churchID][memberID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// ListMembers returns copies of the church's members sorted by name
func (s *MemoryStore) ListMembers(ctx context.Context, churchID string, filter models.MemberFilter) ([]models.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Member, 0, len(s.members[churchID]))
	for _, m := range s.members[churchID] {
		if matchesFilter(m, filter) {
			out = append(out, *m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.MemberID < b.MemberID
	})
	return out, nil
}

// Count returns the number of members stored for a church
func (s *MemoryStore) Count(churchID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[churchID])
}

// RunInTransaction runs fn against a buffered view and commits atomically
func (s *MemoryStore) RunInTransaction(ctx context.Context, churchID string, fn func(tx Tx) error) error {
	return RetryTransaction(ctx, s.policy, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memoryTx{
			store:    s,
			churchID: churchID,
			reads:    make(map[string]int64),
			writes:   make(map[string]*pendingWrite),
		}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.commit()
	})
}

type pendingWrite struct {
	member      *models.Member // nil when deleted
	baseVersion int64          // 0 when the member did not exist
}

type memoryTx struct {
	store    *MemoryStore
	churchID string
	// reads holds the committed version seen for every id read; 0 means absent
	reads  map[string]int64
	writes map[string]*pendingWrite
	order  []string
}

// lookup returns the member as this transaction sees it
func (t *memoryTx) lookup(memberID string) (*models.Member, bool) {
	if w, ok := t.writes[memberID]; ok {
		if w.member == nil {
			return nil, false
		}
		return w.member.Clone(), true
	}

	t.store.mu.RLock()
	m, ok := t.store.members[t.churchID][memberID]
	if ok {
		m = m.Clone()
	}
	t.store.mu.RUnlock()

	if _, seen := t.reads[memberID]; !seen {
		if ok {
			t.reads[memberID] = m.Version
		} else {
			t.reads[memberID] = 0
		}
	}
	return m, ok
}

func (t *memoryTx) GetMember(memberID string) (*models.Member, error) {
	m, ok := t.lookup(memberID)
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (t *memoryTx) GetMembers(memberIDs []string) (map[string]*models.Member, error) {
	ids := uniqueIDs(memberIDs)
	out := make(map[string]*models.Member, len(ids))
	for _, id := range ids {
		if m, ok := t.lookup(id); ok {
			out[id] = m
		}
	}
	return out, nil
}

func (t *memoryTx) ListMembers() ([]models.Member, error) {
	t.store.mu.RLock()
	ids := make([]string, 0, len(t.store.members[t.churchID]))
	for id := range t.store.members[t.churchID] {
		ids = append(ids, id)
	}
	t.store.mu.RUnlock()

	for id, w := range t.writes {
		if w.baseVersion == 0 && w.member != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]models.Member, 0, len(ids))
	for _, id := range uniqueIDs(ids) {
		if m, ok := t.lookup(id); ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (t *memoryTx) CreateMember(member *models.Member) error {
	if _, exists := t.lookup(member.MemberID); exists {
		return ErrAlreadyExists
	}
	member.ChurchID = t.churchID
	member.Version = 1
	if member.Relationships == nil {
		member.Relationships = models.Relationships{}
	}
	member.Touch(true)

	base := int64(0)
	if w, ok := t.writes[member.MemberID]; ok {
		// recreated after a delete in the same transaction
		base = w.baseVersion
	}
	t.record(member.MemberID, &pendingWrite{member: member.Clone(), baseVersion: base})
	return nil
}

func (t *memoryTx) SaveMember(member *models.Member) error {
	current, ok := t.lookup(member.MemberID)
	if !ok {
		return fmt.Errorf("%w: %s no longer exists", ErrConflict, member.MemberID)
	}
	if current.Version != member.Version {
		return fmt.Errorf("%w: %s at version %d", ErrConflict, member.MemberID, member.Version)
	}

	base := current.Version
	if w, ok := t.writes[member.MemberID]; ok {
		base = w.baseVersion
	}
	member.ChurchID = t.churchID
	member.Version++
	member.Touch(false)
	t.record(member.MemberID, &pendingWrite{member: member.Clone(), baseVersion: base})
	return nil
}

func (t *memoryTx) DeleteMember(member *models.Member) error {
	current, ok := t.lookup(member.MemberID)
	if !ok || current.Version != member.Version {
		return fmt.Errorf("%w: %s at version %d", ErrConflict, member.MemberID, member.Version)
	}

	base := current.Version
	if w, ok := t.writes[member.MemberID]; ok {
		base = w.baseVersion
	}
	t.record(member.MemberID, &pendingWrite{baseVersion: base})
	return nil
}

func (t *memoryTx) record(memberID string, w *pendingWrite) {
	if _, ok := t.writes[memberID]; !ok {
		t.order = append(t.order, memberID)
	}
	t.writes[memberID] = w
}

func (t *memoryTx) commit() error {
	if len(t.writes) == 0 {
		return nil
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	church := s.members[t.churchID]
	versionOf := func(id string) int64 {
		if m, ok := church[id]; ok {
			return m.Version
		}
		return 0
	}

	for id, seen := range t.reads {
		if versionOf(id) != seen {
			return fmt.Errorf("%w: %s changed since it was read", ErrConflict, id)
		}
	}
	for _, id := range t.order {
		if versionOf(id) != t.writes[id].baseVersion {
			return fmt.Errorf("%w: %s changed since it was read", ErrConflict, id)
		}
	}

	if s.commitHook != nil {
		if err := s.commitHook(t.churchID, len(t.writes)); err != nil {
			return err
		}
	}

	if church == nil {
		church = make(map[string]*models.Member)
		s.members[t.churchID] = church
	}
	for _, id := range t.order {
		w := t.writes[id]
		if w.member == nil {
			delete(church, id)
			continue
		}
		church[id] = w.member.Clone()
	}
	return nil
}

func matchesFilter(m *models.Member, filter models.MemberFilter) bool {
	if filter.Status != "" && m.Status != filter.Status {
		return false
	}
	if filter.UserID != "" && m.UserID != filter.UserID {
		return false
	}
	if filter.Email != "" && !strings.EqualFold(m.Email, filter.Email) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" {
		return strings.Contains(strings.ToLower(m.FirstName), q) ||
			strings.Contains(strings.ToLower(m.LastName), q) ||
			strings.Contains(strings.ToLower(m.Email), q)
	}
	return true
}

// Seed inserts members directly, bypassing the synchronizer. Used to set up
// fixtures such as one-sided edges.
func (s *MemoryStore) Seed(churchID string, members ...*models.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	church := s.members[churchID]
	if church == nil {
		church = make(map[string]*models.Member)
		s.members[churchID] = church
	}
	now := time.Now().UTC()
	for _, m := range members {
		c := m.Clone()
		c.ChurchID = churchID
		if c.Version == 0 {
			c.Version = 1
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
			c.UpdatedAt = now
		}
		church[c.MemberID] = c
	}
}
