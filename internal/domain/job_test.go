package domain

import "testing"

func jobWithStatuses(statuses ...Status) *Job {
	j := &Job{ID: "job-1", Images: map[string]*ImageTask{}}
	for i, s := range statuses {
		id := string(rune('a' + i))
		j.Images[id] = &ImageTask{ImageID: id, Status: s}
	}
	return j
}

func TestJobStatusAggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all pending", []Status{StatusPending, StatusPending}, StatusPending},
		{"all completed", []Status{StatusCompleted, StatusCompleted}, StatusCompleted},
		{"any processing wins", []Status{StatusCompleted, StatusProcessing, StatusPending}, StatusProcessing},
		{"all failed", []Status{StatusFailed, StatusFailed}, StatusFailed},
		{"mixed terminal is completed", []Status{StatusCompleted, StatusFailed}, StatusCompleted},
		{"failed plus pending stays pending", []Status{StatusFailed, StatusPending}, StatusPending},
		{"single completed", []Status{StatusCompleted}, StatusCompleted},
		{"single failed", []Status{StatusFailed}, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jobWithStatuses(tt.statuses...).Status(); got != tt.want {
				t.Fatalf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJobProgress(t *testing.T) {
	j := jobWithStatuses(StatusCompleted, StatusFailed, StatusPending)
	if got := j.Progress(); got != 2.0/3.0 {
		t.Fatalf("Progress() = %v, want %v", got, 2.0/3.0)
	}

	empty := &Job{Images: map[string]*ImageTask{}}
	if got := empty.Progress(); got != 0.0 {
		t.Fatalf("Progress() on empty job = %v, want 0.0", got)
	}

	done := jobWithStatuses(StatusCompleted, StatusFailed)
	if got := done.Progress(); got != 1.0 {
		t.Fatalf("Progress() = %v, want 1.0", got)
	}
	if got := done.Status(); got != StatusCompleted {
		t.Fatalf("Status() = %q, want %q", got, StatusCompleted)
	}
}

func TestImageTaskTransitionGuard(t *testing.T) {
	task := &ImageTask{Status: StatusCompleted}
	if task.CanTransition(StatusPending) {
		t.Fatal("terminal task must not transition back to pending")
	}
	if !task.CanTransition(StatusCompleted) {
		t.Fatal("re-applying the current status must stay allowed")
	}
	if !task.CanTransition(StatusProcessing) {
		t.Fatal("redelivered task may be marked processing again")
	}

	fresh := &ImageTask{Status: StatusPending}
	if !fresh.CanTransition(StatusPending) {
		t.Fatal("pending task may stay pending")
	}
}

func TestTierTable(t *testing.T) {
	free := LimitsForTier(TierFree)
	if free.DailyLimit != 50 || free.BatchAllowed {
		t.Fatalf("unexpected free limits: %+v", free)
	}
	pro := LimitsForTier(TierPro)
	if pro.DailyLimit != 1000 || !pro.BatchAllowed {
		t.Fatalf("unexpected pro limits: %+v", pro)
	}
	if got := LimitsForTier(Tier("bogus")); got != free {
		t.Fatalf("unknown tier should fall back to free, got %+v", got)
	}
	if ValidTier("bogus") {
		t.Fatal("bogus tier should not validate")
	}
}

func TestCredentialRemaining(t *testing.T) {
	c := &Credential{Key: "cc_0123456789", UsedCount: 48, LimitCount: 50}
	if got := c.Remaining(); got != 2 {
		t.Fatalf("Remaining() = %d, want 2", got)
	}
	c.UsedCount = 51
	if got := c.Remaining(); got != 0 {
		t.Fatalf("Remaining() over limit = %d, want 0", got)
	}
	if got := c.RedactedKey(); got != "cc_01234..." {
		t.Fatalf("RedactedKey() = %q", got)
	}
}
