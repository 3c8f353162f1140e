package threadstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/parley/pkg/models"
)

// MemoryStore is an in-process Store for single-node deployments and
// tests.
type MemoryStore struct {
	mu        sync.RWMutex
	threads   map[string]*models.Thread
	messages  map[string][]*models.Message // by thread, creation order
	citations map[string][]models.Citation // by message
	usage     map[string]*models.UsageRecord
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:   make(map[string]*models.Thread),
		messages:  make(map[string][]*models.Message),
		citations: make(map[string][]models.Citation),
		usage:     make(map[string]*models.UsageRecord),
		now:       time.Now,
	}
}

func (s *MemoryStore) SaveThread(_ context.Context, thread *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *thread
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	cp.UpdatedAt = s.now().UTC()
	s.threads[cp.ID] = &cp
	thread.CreatedAt = cp.CreatedAt
	thread.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, tenantID, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveThreadLocked(tenantID, id)
}

func (s *MemoryStore) liveThreadLocked(tenantID, id string) (*models.Thread, error) {
	t, ok := s.threads[id]
	if !ok || t.TenantID != tenantID || t.Deleted() {
		return nil, ErrThreadNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, tenantID, userID string, opts ListOptions) ([]*models.Thread, int, error) {
	opts.normalize()
	s.mu.RLock()
	var matched []*models.Thread
	for _, t := range s.threads {
		if t.TenantID != tenantID || t.UserID != userID || t.Deleted() {
			continue
		}
		if opts.Search != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(opts.Search)) {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if opts.Offset >= total {
		return []*models.Thread{}, total, nil
	}
	end := opts.Offset + opts.Size
	if end > total {
		end = total
	}
	return matched[opts.Offset:end], total, nil
}

func (s *MemoryStore) SoftDeleteThread(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok || t.TenantID != tenantID || t.Deleted() {
		return ErrThreadNotFound
	}
	now := s.now().UTC()
	t.DeletedAt = &now
	return nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[msg.ThreadID]
	if !ok || t.Deleted() {
		return ErrThreadNotFound
	}
	cp := *msg
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], &cp)
	t.UpdatedAt = s.now().UTC()
	msg.CreatedAt = cp.CreatedAt
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, threadID, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[threadID] {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrMessageNotFound
}

func (s *MemoryStore) ListMessagesByThread(_ context.Context, threadID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[threadID]
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]*models.Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DeleteMessagesAfter(_ context.Context, threadID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[threadID]
	cut := -1
	for i, m := range msgs {
		if m.ID == messageID {
			cut = i
			break
		}
	}
	if cut == -1 {
		return ErrMessageNotFound
	}
	// Only assistant turns after the anchor go; interleaved user
	// messages survive a regenerate.
	kept := msgs[:cut+1]
	for _, m := range msgs[cut+1:] {
		if m.Role != models.RoleAssistant {
			kept = append(kept, m)
			continue
		}
		delete(s.citations, m.ID)
	}
	s.messages[threadID] = kept
	return nil
}

func (s *MemoryStore) CountUserMessagesSince(_ context.Context, tenantID, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for threadID, msgs := range s.messages {
		t, ok := s.threads[threadID]
		if !ok || t.TenantID != tenantID || t.UserID != userID || t.Deleted() {
			continue
		}
		for _, m := range msgs {
			if m.Role == models.RoleUser && !m.CreatedAt.Before(since) {
				count++
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) SaveCitations(_ context.Context, citations []models.Citation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCitationsLocked(citations)
	return nil
}

func (s *MemoryStore) saveCitationsLocked(citations []models.Citation) {
	for _, c := range citations {
		s.citations[c.MessageID] = append(s.citations[c.MessageID], c)
	}
}

// CitationsByMessage returns the citations stored for one message.
func (s *MemoryStore) CitationsByMessage(messageID string) []models.Citation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Citation, len(s.citations[messageID]))
	copy(out, s.citations[messageID])
	return out
}

func usageKey(u *models.UsageRecord) string {
	return u.TenantID + "\x00" + u.ModelCode + "\x00" + models.UsageDay(u.Day).Format("2006-01-02")
}

func (s *MemoryStore) SaveUsage(_ context.Context, usage *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveUsageLocked(usage)
	return nil
}

func (s *MemoryStore) saveUsageLocked(usage *models.UsageRecord) {
	key := usageKey(usage)
	existing, ok := s.usage[key]
	if !ok {
		cp := *usage
		cp.Day = models.UsageDay(usage.Day)
		s.usage[key] = &cp
		return
	}
	existing.TokensIn += usage.TokensIn
	existing.TokensOut += usage.TokensOut
	existing.Cost += usage.Cost
}

func (s *MemoryStore) ListUsageByDay(_ context.Context, day time.Time) ([]*models.UsageRecord, error) {
	bucket := models.UsageDay(day)
	s.mu.RLock()
	var out []*models.UsageRecord
	for _, u := range s.usage {
		if u.Day.Equal(bucket) {
			cp := *u
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].ModelCode < out[j].ModelCode
	})
	return out, nil
}

// UsageFor returns the accumulated usage for a tenant, model, and day.
func (s *MemoryStore) UsageFor(tenantID, modelCode string, day time.Time) *models.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usage[usageKey(&models.UsageRecord{TenantID: tenantID, ModelCode: modelCode, Day: day})]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (s *MemoryStore) SaveAssistantTurn(_ context.Context, msg *models.Message, citations []models.Citation, usage *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[msg.ThreadID]
	if !ok || t.Deleted() {
		return ErrThreadNotFound
	}
	cp := *msg
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], &cp)
	s.saveCitationsLocked(citations)
	if usage != nil {
		s.saveUsageLocked(usage)
	}
	t.UpdatedAt = s.now().UTC()
	msg.CreatedAt = cp.CreatedAt
	return nil
}
