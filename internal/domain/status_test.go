package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingOTP, StatusProcessing, true},
		{StatusPendingOTP, StatusExpired, true},
		{StatusPendingOTP, StatusFailed, true},
		{StatusPendingOTP, StatusSuccess, false},
		{StatusProcessing, StatusSuccess, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPendingOTP, false},
		{StatusExpired, StatusPendingOTP, true},
		{StatusExpired, StatusFailed, true},
		{StatusExpired, StatusProcessing, false},
		{StatusSuccess, StatusFailed, false},
		{StatusSuccess, StatusPendingOTP, false},
		{StatusFailed, StatusPendingOTP, false},
		{StatusFailed, StatusSuccess, false},
	}
	for _, tc := range testCases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatus_TerminalAndActive(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusFailed} {
		if !s.Terminal() || s.Active() {
			t.Errorf("%s: Terminal = %v, Active = %v", s, s.Terminal(), s.Active())
		}
	}
	for _, s := range ActiveStatuses {
		if s.Terminal() || !s.Active() {
			t.Errorf("%s: Terminal = %v, Active = %v", s, s.Terminal(), s.Active())
		}
	}
	if Status("BOGUS").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestTransitionTo_StampsCompletion(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	txn := &Transaction{Status: StatusPendingOTP}

	if err := txn.TransitionTo(StatusProcessing, at); err != nil {
		t.Fatalf("TransitionTo(PROCESSING): %v", err)
	}
	if txn.CompletedAt != nil {
		t.Error("CompletedAt should stay nil for non-terminal status")
	}
	if err := txn.TransitionTo(StatusSuccess, at); err != nil {
		t.Fatalf("TransitionTo(SUCCESS): %v", err)
	}
	if txn.CompletedAt == nil || !txn.CompletedAt.Equal(at) {
		t.Errorf("CompletedAt = %v, want %v", txn.CompletedAt, at)
	}
}

func TestTransitionTo_RejectsLeavingTerminal(t *testing.T) {
	txn := &Transaction{Status: StatusSuccess}
	err := txn.TransitionTo(StatusFailed, time.Now())
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransitionError", err)
	}
	if txn.Status != StatusSuccess {
		t.Errorf("status = %s, want unchanged SUCCESS", txn.Status)
	}
}

func TestCurrentPeriod(t *testing.T) {
	testCases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-1"},
		{time.Date(2026, 6, 30, 23, 59, 0, 0, time.UTC), "2026-1"},
		{time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), "2026-2"},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), "2026-2"},
	}
	for _, tc := range testCases {
		if got := CurrentPeriod(tc.at); got != tc.want {
			t.Errorf("CurrentPeriod(%v) = %q, want %q", tc.at, got, tc.want)
		}
	}
}

func TestNormalizeStudentID(t *testing.T) {
	if got := NormalizeStudentID("  523h0111 "); got != "523H0111" {
		t.Errorf("NormalizeStudentID = %q, want %q", got, "523H0111")
	}
}
