package order

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
)

func seed(t *testing.T, n int) *Store {
	t.Helper()
	s := NewStore()
	for i := 0; i < n; i++ {
		o := &Order{
			ID:        s.NextID(),
			Owner:     common.HexToAddress("0x01"),
			AssetIn:   core.AssetFromSymbol("X"),
			AmountIn:  100,
			AssetOut:  core.AssetFromSymbol("Y"),
			AmountOut: 50,
		}
		if err := s.Put(o); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	return s
}

func ids(orders []*Order) []uint64 {
	out := make([]uint64, len(orders))
	for i, o := range orders {
		if o != nil {
			out[i] = o.ID
		}
	}
	return out
}

func TestList(t *testing.T) {
	s := seed(t, 3)

	tests := []struct {
		name   string
		offset uint64
		want   []uint64
	}{
		{"offset zero", 0, []uint64{0, 1, 2, 3, 0, 0, 0, 0, 0, 0}},
		{"offset one", 1, []uint64{1, 2, 3, 0, 0, 0, 0, 0, 0, 0}},
		{"past end", 4, make([]uint64, core.PageSize)},
		{"near max", math.MaxUint64 - 2, make([]uint64, core.PageSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.List(tt.offset)
			if len(got) != core.PageSize {
				t.Fatalf("len = %d, want %d", len(got), core.PageSize)
			}
			g := ids(got)
			for i := range tt.want {
				if g[i] != tt.want[i] {
					t.Errorf("slot %d = %d, want %d", i, g[i], tt.want[i])
				}
			}
		})
	}
}

func TestListByIDs(t *testing.T) {
	s := seed(t, 3)

	got, err := s.ListByIDs([]uint64{3, 0, 1, 9})
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{3, 0, 1, 0}
	g := ids(got)
	for i := range want {
		if g[i] != want[i] {
			t.Errorf("slot %d = %d, want %d", i, g[i], want[i])
		}
	}

	if _, err := s.ListByIDs(make([]uint64, core.PageSize+1)); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestPut(t *testing.T) {
	s := seed(t, 2)

	if err := s.Put(&Order{ID: 5}); err == nil {
		t.Error("put with gap succeeded")
	}
	if err := s.Put(&Order{ID: 0}); err == nil {
		t.Error("put with id 0 succeeded")
	}

	o, _ := s.Get(2)
	o.Status = Cancelled
	if err := s.Put(o); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(2)
	if got.Status != Cancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if s.Len() != 2 {
		t.Errorf("len = %d, want 2", s.Len())
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := seed(t, 1)
	o, _ := s.Get(1)
	o.AmountIn = 1
	again, _ := s.Get(1)
	if again.AmountIn != 100 {
		t.Errorf("store mutated through returned order: amountIn = %d", again.AmountIn)
	}
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(&Order{ID: 1, Status: Fulfilled})
	if err != nil {
		t.Fatal(err)
	}
	var o Order
	if err := json.Unmarshal(b, &o); err != nil {
		t.Fatal(err)
	}
	if o.Status != Fulfilled {
		t.Errorf("status = %s, want fulfilled", o.Status)
	}
}
