package store

import "testing"

func TestFormatRewardRecord(t *testing.T) {
	r := RewardRecord{
		ValidatorID: 1,
		Actual:      RewardComponents{Head: 10, Target: 20, Source: 30, Inactivity: 0},
		Missed:      RewardComponents{Head: 0, Target: 5, Source: 0, Inactivity: 0},
	}
	got := formatRewardRecord(31250, r)
	want := "31250:10:20:30:0:0:5:0:0"
	if got != want {
		t.Fatalf("formatRewardRecord() = %q, want %q", got, want)
	}
}

func TestFormatRewardRecordWithClampedMissed(t *testing.T) {
	// v2 from scenario 4: ideal (10,25,30,0), actual (5,5,5,5).
	// missedInactivity = max(0, 0-5) = 0, per Open Question 3's clamped rule.
	// The clamping happens before the record reaches formatRewardRecord,
	// which formats the Missed values as given.
	r := RewardRecord{
		ValidatorID: 2,
		Actual:      RewardComponents{Head: 5, Target: 5, Source: 5, Inactivity: 5},
		Missed:      RewardComponents{Head: 5, Target: 20, Source: 25, Inactivity: 0},
	}
	got := formatRewardRecord(31250, r)
	want := "31250:5:5:5:5:5:20:25:0"
	if got != want {
		t.Fatalf("formatRewardRecord() = %q, want %q", got, want)
	}
}

func TestHasEpochRecordExactPrefixMatch(t *testing.T) {
	records := "1:1:1:1:1:0:0:0:0,12:2:2:2:2:0:0:0:0"
	if hasEpochRecord(records, 2) {
		t.Fatal("hasEpochRecord(2) should not match epoch 12's record")
	}
	if !hasEpochRecord(records, 1) {
		t.Fatal("hasEpochRecord(1) should match")
	}
	if !hasEpochRecord(records, 12) {
		t.Fatal("hasEpochRecord(12) should match")
	}
	if hasEpochRecord("", 1) {
		t.Fatal("hasEpochRecord on empty string should be false")
	}
}

func TestRewardComponentsSum(t *testing.T) {
	r := RewardComponents{Head: 1, Target: 2, Source: 3, Inactivity: 4}
	if got := r.Sum(); got != 10 {
		t.Fatalf("Sum() = %d, want 10", got)
	}
}
