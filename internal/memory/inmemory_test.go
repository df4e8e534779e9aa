package memory

import (
	"context"
	"testing"
)

func TestInMemoryHistoryKeepsMostRecentInOrder(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s1", Role: RoleUser, Content: content}); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}
	_ = s.SaveTurn(ctx, TurnRecord{SessionID: "s2", Role: RoleUser, Content: "other"})

	got, err := s.History(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "two" || got[1].Content != "three" {
		t.Fatalf("History() = %+v, want [two three]", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("record missing id or timestamp: %+v", got[0])
	}

	all, _ := s.History(ctx, "s1", 0)
	if len(all) != 3 {
		t.Fatalf("len(History(limit=0)) = %d, want 3", len(all))
	}

	s.Forget("s1")
	if got, _ := s.History(ctx, "s1", 0); len(got) != 0 {
		t.Fatalf("History() after Forget = %d records, want 0", len(got))
	}
}
