package dispute

import (
	"context"
	"errors"
	"testing"
)

func TestService_ListValidatesStatus(t *testing.T) {
	repo := &fakeReader{records: []Record{
		{ID: "d1", PoolAddress: "0xpool", Status: StatusResolved},
		{ID: "d2", PoolAddress: "0xpool", Status: StatusUnderReview},
		{ID: "d3", PoolAddress: "0xother", Status: StatusUnderReview},
	}}
	svc := NewService(repo)

	if _, err := svc.List(context.Background(), "0xpool", Status("escalated")); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}

	all, err := svc.List(context.Background(), "0xpool", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	open, err := svc.List(context.Background(), "0xpool", StatusUnderReview)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ID != "d2" {
		t.Fatalf("unexpected open disputes %+v", open)
	}
}

func TestService_GetNotFound(t *testing.T) {
	svc := NewService(&fakeReader{})
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeReader struct {
	records []Record
}

func (f *fakeReader) List(ctx context.Context, poolAddress string, status Status) ([]Record, error) {
	out := []Record{}
	for _, r := range f.records {
		if r.PoolAddress != poolAddress {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeReader) Get(ctx context.Context, id string) (Record, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}
