package timeline

import (
	"context"
	"errors"
	"testing"
)

func TestService_ListNormalizesTopic(t *testing.T) {
	repo := &fakeLister{}
	svc := NewService(repo)

	if _, err := svc.List(context.Background(), Filter{PoolAddress: "0xpool", Topic: "  0xABCdef "}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.last.Topic != "0xabcdef" {
		t.Fatalf("expected lowercased topic, got %q", repo.last.Topic)
	}
}

func TestService_ListRequiresPool(t *testing.T) {
	repo := &fakeLister{}
	svc := NewService(repo)

	if _, err := svc.List(context.Background(), Filter{}); !errors.Is(err, ErrMissingPool) {
		t.Fatalf("expected ErrMissingPool, got %v", err)
	}
	if repo.calls != 0 {
		t.Fatalf("expected repository to be skipped")
	}
}

type fakeLister struct {
	last  Filter
	calls int
}

func (f *fakeLister) List(ctx context.Context, filter Filter) ([]Event, error) {
	f.calls++
	f.last = filter
	return []Event{}, nil
}
