package dedup

import (
	"context"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestMemoryTracker_ThresholdOncePerWindow(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()
	key := Key{RuleID: "AWS.ALB.HighVol400s", DedupKey: "example.com"}
	policy := Policy{Threshold: 3, Window: 5 * time.Minute}

	alerts := 0
	for i := 0; i < 5; i++ {
		obs, err := tracker.Observe(ctx, key, policy, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Observe() error = %v", err)
		}
		if obs.Count != i+1 {
			t.Errorf("match %d: Count = %d, want %d", i+1, obs.Count, i+1)
		}
		if obs.Alert {
			alerts++
			if i != 2 {
				t.Errorf("alert on match %d, want on match 3", i+1)
			}
		}
		wantState := StateBelowThreshold
		if i >= 2 {
			wantState = StateAlerted
		}
		if obs.State != wantState {
			t.Errorf("match %d: State = %v, want %v", i+1, obs.State, wantState)
		}
	}
	if alerts != 1 {
		t.Errorf("alerts = %d, want 1", alerts)
	}

	// A sole match in a fresh window stays below the threshold.
	obs, err := tracker.Observe(ctx, key, policy, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if obs.Alert || obs.Count != 1 || obs.State != StateBelowThreshold {
		t.Errorf("fresh window observation = %+v, want count 1 without alert", obs)
	}
	if !obs.WindowStart.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("WindowStart = %v, want the match time", obs.WindowStart)
	}
}

func TestMemoryTracker_ThresholdOne(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()
	key := Key{RuleID: "AWS.CloudTrail.Stopped", DedupKey: "AWS.CloudTrail.Stopped"}
	policy := Policy{Threshold: 1, Window: time.Hour}

	tests := []struct {
		name      string
		at        time.Time
		wantAlert bool
	}{
		{"first match alerts", base, true},
		{"same window suppressed", base.Add(30 * time.Minute), false},
		{"window boundary opens new window", base.Add(time.Hour), true},
		{"second window suppressed", base.Add(90 * time.Minute), false},
	}

	for _, tt := range tests {
		obs, err := tracker.Observe(ctx, key, policy, tt.at)
		if err != nil {
			t.Fatalf("%s: Observe() error = %v", tt.name, err)
		}
		if obs.Alert != tt.wantAlert {
			t.Errorf("%s: Alert = %v, want %v", tt.name, obs.Alert, tt.wantAlert)
		}
	}
}

func TestMemoryTracker_KeysIndependent(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()
	policy := Policy{Threshold: 2, Window: time.Hour}

	a := Key{RuleID: "R", DedupKey: "a"}
	b := Key{RuleID: "R", DedupKey: "b"}
	other := Key{RuleID: "S", DedupKey: "a"}

	tracker.Observe(ctx, a, policy, base)
	obs, _ := tracker.Observe(ctx, b, policy, base)
	if obs.Count != 1 {
		t.Errorf("key b Count = %d, want 1", obs.Count)
	}
	obs, _ = tracker.Observe(ctx, other, policy, base)
	if obs.Count != 1 {
		t.Errorf("other rule Count = %d, want 1", obs.Count)
	}
	obs, _ = tracker.Observe(ctx, a, policy, base)
	if !obs.Alert {
		t.Error("key a should alert on its second match")
	}
	if tracker.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tracker.Len())
	}
}

func TestMemoryTracker_Concurrent(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()
	key := Key{RuleID: "HostIDS.C2", DedupKey: "web-1"}
	policy := Policy{Threshold: 50, Window: time.Hour}

	const workers = 20
	const perWorker = 25

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		alerts int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				obs, err := tracker.Observe(ctx, key, policy, base)
				if err != nil {
					t.Errorf("Observe() error = %v", err)
					return
				}
				if obs.Alert {
					mu.Lock()
					alerts++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	w, ok := tracker.Peek(key)
	if !ok {
		t.Fatal("Peek() found no window")
	}
	if w.Count != workers*perWorker {
		t.Errorf("Count = %d, want %d (lost updates)", w.Count, workers*perWorker)
	}
	if alerts != 1 {
		t.Errorf("alerts = %d, want exactly 1", alerts)
	}
}

func TestMemoryTracker_Sweep(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()
	policy := Policy{Threshold: 1, Window: 10 * time.Minute}

	tracker.Observe(ctx, Key{RuleID: "R", DedupKey: "old"}, policy, base)
	tracker.Observe(ctx, Key{RuleID: "R", DedupKey: "new"}, policy, base.Add(15*time.Minute))

	if dropped := tracker.Sweep(base.Add(20 * time.Minute)); dropped != 1 {
		t.Errorf("Sweep() dropped %d, want 1", dropped)
	}
	if _, ok := tracker.Peek(Key{RuleID: "R", DedupKey: "old"}); ok {
		t.Error("expired window survived Sweep()")
	}
	if _, ok := tracker.Peek(Key{RuleID: "R", DedupKey: "new"}); !ok {
		t.Error("open window dropped by Sweep()")
	}
}

func TestMemoryTracker_Cancelled(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tracker.Observe(ctx, Key{RuleID: "R"}, Policy{Threshold: 1, Window: time.Minute}, base); err == nil {
		t.Error("Observe() should fail on a cancelled context")
	}
	if tracker.Len() != 0 {
		t.Error("cancelled Observe() must not touch state")
	}
}

func TestPolicy_Normalized(t *testing.T) {
	p := Policy{}.normalized()
	if p.Threshold != 1 || p.Window != time.Minute {
		t.Errorf("normalized() = %+v", p)
	}
}

func TestState_String(t *testing.T) {
	if StateAlerted.String() != "ALERTED" || StateBelowThreshold.String() != "BELOW_THRESHOLD" {
		t.Error("unexpected state names")
	}
}
