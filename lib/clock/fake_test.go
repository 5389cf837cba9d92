// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowStandsStill(t *testing.T) {
	fake := Fake(epoch)
	if !fake.Now().Equal(epoch) {
		t.Fatalf("Now = %v, want %v", fake.Now(), epoch)
	}
	if !fake.Now().Equal(fake.Now()) {
		t.Error("fake time moved without Advance")
	}
}

func TestFakeAdvanceAndSet(t *testing.T) {
	fake := Fake(epoch)
	fake.Advance(90 * time.Second)
	if want := epoch.Add(90 * time.Second); !fake.Now().Equal(want) {
		t.Errorf("after Advance: %v, want %v", fake.Now(), want)
	}
	earlier := epoch.Add(-time.Hour)
	fake.Set(earlier)
	if !fake.Now().Equal(earlier) {
		t.Errorf("after Set: %v, want %v", fake.Now(), earlier)
	}
}

func TestFakeSleepAdvancesAndRecords(t *testing.T) {
	fake := Fake(epoch)
	fake.Sleep(10 * time.Millisecond)
	fake.Sleep(20 * time.Millisecond)
	fake.Sleep(0)

	if want := epoch.Add(30 * time.Millisecond); !fake.Now().Equal(want) {
		t.Errorf("Now = %v, want %v", fake.Now(), want)
	}
	slept := fake.Slept()
	if len(slept) != 3 || slept[0] != 10*time.Millisecond || slept[2] != 0 {
		t.Errorf("Slept = %v", slept)
	}
}

func TestRealClockImplementsClock(t *testing.T) {
	var c Clock = Real()
	before := time.Now()
	if c.Now().Before(before) {
		t.Error("Real().Now() is before time.Now()")
	}
	c.Sleep(0)
}
