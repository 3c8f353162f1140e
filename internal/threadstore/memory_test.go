package threadstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/parley/pkg/models"
)

func newClockedStore() (*MemoryStore, *time.Time) {
	s := NewMemoryStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func saveThread(t *testing.T, s *MemoryStore, id, tenantID, userID, title string) *models.Thread {
	t.Helper()
	thread := &models.Thread{ID: id, TenantID: tenantID, UserID: userID, Title: title, DefaultModel: "gpt-4o"}
	if err := s.SaveThread(context.Background(), thread); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	return thread
}

func TestThreadRoundTrip(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()
	saveThread(t, s, "th1", "t1", "u1", "Quarterly report")

	got, err := s.GetThread(ctx, "t1", "th1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.Title != "Quarterly report" || got.UpdatedAt.IsZero() {
		t.Errorf("thread = %+v", got)
	}

	if _, err := s.GetThread(ctx, "t2", "th1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("cross-tenant get = %v", err)
	}
}

func TestListThreadsOrderSearchAndPaging(t *testing.T) {
	s, now := newClockedStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		*now = now.Add(time.Minute)
		saveThread(t, s, fmt.Sprintf("th%d", i), "t1", "u1", fmt.Sprintf("Report %d", i))
	}
	saveThread(t, s, "other", "t1", "u2", "Report 9")

	threads, total, err := s.ListThreads(ctx, "t1", "u1", ListOptions{Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("total = %d", total)
	}
	if len(threads) != 2 || threads[0].ID != "th4" || threads[1].ID != "th3" {
		t.Errorf("page = %v", []string{threads[0].ID, threads[1].ID})
	}

	page2, _, err := s.ListThreads(ctx, "t1", "u1", ListOptions{Offset: 2, Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 || page2[0].ID != "th2" {
		t.Errorf("page2 = %+v", page2)
	}

	found, total, err := s.ListThreads(ctx, "t1", "u1", ListOptions{Search: "report 3"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || found[0].ID != "th3" {
		t.Errorf("search = %+v total %d", found, total)
	}
}

func TestSoftDeleteHidesThreadAndMessages(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()
	saveThread(t, s, "th1", "t1", "u1", "Doomed")
	msg := &models.Message{ID: "m1", ThreadID: "th1", Role: models.RoleUser, Content: "hello"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	if err := s.SoftDeleteThread(ctx, "t1", "th1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetThread(ctx, "t1", "th1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("deleted thread still readable: %v", err)
	}
	if err := s.SaveMessage(ctx, &models.Message{ID: "m2", ThreadID: "th1", Role: models.RoleUser}); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("append to deleted thread = %v", err)
	}
	if err := s.SoftDeleteThread(ctx, "t1", "th1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("double delete = %v", err)
	}

	n, err := s.CountUserMessagesSince(ctx, "t1", "u1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("deleted thread messages still counted: %d", n)
	}
}

func TestMessagesOrderAndLimit(t *testing.T) {
	s, now := newClockedStore()
	ctx := context.Background()
	saveThread(t, s, "th1", "t1", "u1", "Chat")
	for i := 0; i < 5; i++ {
		*now = now.Add(time.Second)
		err := s.SaveMessage(ctx, &models.Message{
			ID: fmt.Sprintf("m%d", i), ThreadID: "th1", Role: models.RoleUser,
			Content: fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListMessagesByThread(ctx, "th1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || all[0].ID != "m0" || all[4].ID != "m4" {
		t.Errorf("order broken: %v", messageIDs(all))
	}

	recent, err := s.ListMessagesByThread(ctx, "th1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "m3" || recent[1].ID != "m4" {
		t.Errorf("limited list = %v", messageIDs(recent))
	}
}

func TestDeleteMessagesAfter(t *testing.T) {
	s, now := newClockedStore()
	ctx := context.Background()
	saveThread(t, s, "th1", "t1", "u1", "Chat")
	roles := []models.Role{
		models.RoleUser,      // m0
		models.RoleUser,      // m1, anchor
		models.RoleAssistant, // m2
		models.RoleUser,      // m3
		models.RoleAssistant, // m4
	}
	for i, role := range roles {
		*now = now.Add(time.Second)
		if err := s.SaveMessage(ctx, &models.Message{ID: fmt.Sprintf("m%d", i), ThreadID: "th1", Role: role}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveCitations(ctx, []models.Citation{{MessageID: "m4", ChunkID: "c1"}}); err != nil {
		t.Fatal(err)
	}

	// Only assistant turns after the anchor go; later user messages stay.
	if err := s.DeleteMessagesAfter(ctx, "th1", "m1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.ListMessagesByThread(ctx, "th1", 0)
	want := []string{"m0", "m1", "m3"}
	if got := messageIDs(msgs); len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if got := s.CitationsByMessage("m4"); len(got) != 0 {
		t.Errorf("orphan citations survived: %v", got)
	}

	if err := s.DeleteMessagesAfter(ctx, "th1", "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("missing anchor = %v", err)
	}
}

func TestCountUserMessagesSince(t *testing.T) {
	s, now := newClockedStore()
	ctx := context.Background()
	saveThread(t, s, "th1", "t1", "u1", "Chat")
	cutoff := *now

	*now = now.Add(time.Minute)
	_ = s.SaveMessage(ctx, &models.Message{ID: "m1", ThreadID: "th1", Role: models.RoleUser})
	_ = s.SaveMessage(ctx, &models.Message{ID: "m2", ThreadID: "th1", Role: models.RoleAssistant})

	n, err := s.CountUserMessagesSince(ctx, "t1", "u1", cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want only the USER row", n)
	}
}

func TestSaveUsageAccumulates(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		err := s.SaveUsage(ctx, &models.UsageRecord{
			TenantID: "t1", ModelCode: "gpt-4o", Day: day, TokensIn: 100, TokensOut: 50, Cost: 0.01,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got := s.UsageFor("t1", "gpt-4o", day)
	if got == nil || got.TokensIn != 200 || got.TokensOut != 100 {
		t.Errorf("usage = %+v", got)
	}
	if !got.Day.Equal(models.UsageDay(day)) {
		t.Errorf("day bucket = %v", got.Day)
	}
}

func TestSaveAssistantTurn(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()
	saveThread(t, s, "th1", "t1", "u1", "Chat")

	msg := &models.Message{ID: "m1", ThreadID: "th1", Role: models.RoleAssistant, Content: "answer", TokensIn: 10, TokensOut: 5}
	citations := []models.Citation{{MessageID: "m1", ChunkID: "c1", Score: 0.9}}
	usage := &models.UsageRecord{TenantID: "t1", ModelCode: "gpt-4o", Day: time.Now(), TokensIn: 10, TokensOut: 5}

	if err := s.SaveAssistantTurn(ctx, msg, citations, usage); err != nil {
		t.Fatalf("SaveAssistantTurn: %v", err)
	}
	msgs, _ := s.ListMessagesByThread(ctx, "th1", 0)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", messageIDs(msgs))
	}
	if got := s.CitationsByMessage("m1"); len(got) != 1 {
		t.Errorf("citations = %v", got)
	}
	if got := s.UsageFor("t1", "gpt-4o", time.Now()); got == nil || got.TokensIn != 10 {
		t.Errorf("usage = %+v", got)
	}

	// A turn against a deleted thread persists nothing.
	if err := s.SoftDeleteThread(ctx, "t1", "th1"); err != nil {
		t.Fatal(err)
	}
	err := s.SaveAssistantTurn(ctx, &models.Message{ID: "m2", ThreadID: "th1", Role: models.RoleAssistant}, nil, usage)
	if !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("turn on deleted thread = %v", err)
	}
}

func messageIDs(msgs []*models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
