package licensing

import (
	"errors"
	"testing"
	"time"
)

func TestCost(t *testing.T) {
	cases := []struct {
		name       string
		days       int
		maxDevices int
		want       int64
	}{
		{"one day one device", 1, 1, 11},
		{"one day ten devices", 1, 10, 11},
		{"one day eleven devices", 1, 11, 21},
		{"week five devices", 7, 5, 17},
		{"month thirty devices", 30, 30, 60},
		{"lifetime one device", LifetimeDays, 1, 60},
		{"lifetime hundred devices", LifetimeDays, 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Cost(tc.days, tc.maxDevices)
			if err != nil {
				t.Fatalf("Cost(%d, %d): %v", tc.days, tc.maxDevices, err)
			}
			if got != tc.want {
				t.Fatalf("Cost(%d, %d) = %d, want %d", tc.days, tc.maxDevices, got, tc.want)
			}
		})
	}
}

func TestCost_InvalidInput(t *testing.T) {
	if _, err := Cost(5, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 5 days, got %v", err)
	}
	if _, err := Cost(7, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 0 devices, got %v", err)
	}
	if _, err := Cost(0, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 0 days, got %v", err)
	}
}

func TestUpgradeCost(t *testing.T) {
	cases := []struct {
		name                       string
		currentDays, newDays       int
		currentDevices, newDevices int
		want                       int64
	}{
		{"week to month", 7, 30, 1, 1, 23},
		{"add seat block", 7, 7, 10, 11, 10},
		{"downgrade is free", 30, 1, 1, 1, 0},
		{"lateral move is free", 7, 7, 3, 5, 0},
		{"to lifetime", 30, LifetimeDays, 1, 1, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := UpgradeCost(tc.currentDays, tc.newDays, tc.currentDevices, tc.newDevices)
			if err != nil {
				t.Fatalf("UpgradeCost: %v", err)
			}
			if got != tc.want {
				t.Fatalf("UpgradeCost = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestReconstructTier(t *testing.T) {
	now := time.Now().UTC()
	expiry := func(days int) *time.Time {
		e := now.AddDate(0, 0, days)
		return &e
	}

	cases := []struct {
		name       string
		isLifetime bool
		expiry     *time.Time
		want       int
	}{
		{"lifetime", true, nil, LifetimeDays},
		{"expires tomorrow", false, expiry(1), 1},
		{"expires in three days", false, expiry(3), 3},
		{"expires in five days", false, expiry(5), 7},
		{"expires in two weeks", false, expiry(14), 14},
		{"expires in a month", false, expiry(30), 30},
		{"already expired", false, expiry(-2), 1},
		{"missing expiry", false, nil, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ReconstructTier(tc.isLifetime, tc.expiry, now)
			if got != tc.want {
				t.Fatalf("ReconstructTier = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestKeyGenerator_Candidate(t *testing.T) {
	gen := NewKeyGenerator()

	custom, err := gen.Candidate("alice", "my-key-01")
	if err != nil {
		t.Fatalf("custom candidate: %v", err)
	}
	if custom != "MYKEY01" {
		t.Fatalf("expected normalized custom key MYKEY01, got %q", custom)
	}

	if _, err := gen.Candidate("alice", "ab!"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short custom key, got %v", err)
	}
	if _, err := gen.Candidate("alice", "abcdefghijklmnop"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for long custom key, got %v", err)
	}

	derived, err := gen.Candidate("Alice Smith", "")
	if err != nil {
		t.Fatalf("derived candidate: %v", err)
	}
	if len(derived) != len("alicesmith")+1+10 {
		t.Fatalf("unexpected derived key length: %q", derived)
	}
	if derived[:11] != "alicesmith-" {
		t.Fatalf("unexpected derived key prefix: %q", derived)
	}
}
