package subscriber

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

func batch(gen uint32, phys ...uint8) *event.Batch {
	events := make([]event.Event, len(phys))
	for i, p := range phys {
		events[i] = event.New(event.KindUpdated, gen, event.NodeInfo{PhyID: p}, nil)
	}
	return event.NewBatch("fw0", gen, false, events)
}

func TestHistory_Ring(t *testing.T) {
	h := NewHistory("recent", 3)
	ctx := context.Background()
	if got := h.Recent(0); len(got) != 0 {
		t.Fatalf("empty history returned %d events", len(got))
	}
	_ = h.Deliver(ctx, batch(1, 0, 1))
	_ = h.Deliver(ctx, batch(2, 2, 3))

	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("Recent(0) returned %d events, want 3", len(got))
	}
	for i, want := range []uint8{1, 2, 3} {
		if got[i].Node.PhyID != want {
			t.Errorf("Recent(0)[%d].PhyID = %d, want %d", i, got[i].Node.PhyID, want)
		}
	}
	last := h.Recent(1)
	if len(last) != 1 || last[0].Node.PhyID != 3 {
		t.Errorf("Recent(1) = %+v, want phy 3", last)
	}
	if h.Total() != 4 {
		t.Errorf("Total() = %d, want 4", h.Total())
	}
}

func TestHistoryFactory_Params(t *testing.T) {
	f := HistoryFactory{}
	cases := []struct {
		name    string
		params  map[string]interface{}
		wantErr bool
	}{
		{"default", nil, false},
		{"int", map[string]interface{}{"capacity": 8}, false},
		{"whole float", map[string]interface{}{"capacity": 8.0}, false},
		{"fraction", map[string]interface{}{"capacity": 8.5}, true},
		{"zero", map[string]interface{}{"capacity": 0}, true},
		{"string", map[string]interface{}{"capacity": "big"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.Validate(tc.params)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate(%v) error = %v, wantErr %v", tc.params, err, tc.wantErr)
			}
			if err == nil {
				if _, err := f.New("h", tc.params); err != nil {
					t.Fatalf("New: %v", err)
				}
			}
		})
	}
}

func TestLog_Deliver(t *testing.T) {
	var buf bytes.Buffer
	f := LogFactory{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	if err := f.Validate(map[string]interface{}{"level": "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	s, err := f.New("audit", map[string]interface{}{"level": "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Deliver(context.Background(), batch(5, 7)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"level=DEBUG", "subscriber=audit", "kind=updated", "phy_id=7", "generation=5"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q lacks %q", out, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := Defaults()
	if got := strings.Join(r.Types(), ","); got != "history,log" {
		t.Errorf("Types() = %s", got)
	}
	if _, err := r.Get("webhook"); err == nil {
		t.Error("expected error for unknown type")
	}
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	r.Register(HistoryFactory{})
}
