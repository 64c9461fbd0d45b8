// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package state

import (
	"testing"
	"time"
)

func TestIsRateLimited(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		history  TriggerHistory
		expected bool
	}{
		{
			name:     "never shown",
			history:  TriggerHistory{},
			expected: false,
		},
		{
			name:     "shown one hour ago",
			history:  TriggerHistory{LastShownAt: now.Add(-time.Hour), ShownCount: 1},
			expected: true,
		},
		{
			name:     "shown just under a day ago",
			history:  TriggerHistory{LastShownAt: now.Add(-DefaultRateLimitWindow + time.Second), ShownCount: 1},
			expected: true,
		},
		{
			name:     "shown exactly a day ago",
			history:  TriggerHistory{LastShownAt: now.Add(-DefaultRateLimitWindow), ShownCount: 1},
			expected: false,
		},
		{
			name:     "shown two days ago",
			history:  TriggerHistory{LastShownAt: now.Add(-48 * time.Hour), ShownCount: 2},
			expected: false,
		},
		{
			name:     "clock moved backwards",
			history:  TriggerHistory{LastShownAt: now.Add(time.Hour), ShownCount: 1},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsRateLimited(tt.history, now, DefaultRateLimitWindow)
			if got != tt.expected {
				t.Errorf("IsRateLimited() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestIsCapped(t *testing.T) {
	tests := []struct {
		count    int
		expected bool
	}{
		{count: 0, expected: false},
		{count: 2, expected: false},
		{count: 3, expected: true},
		{count: 4, expected: true},
	}

	for _, tt := range tests {
		got := IsCapped(TriggerHistory{ShownCount: tt.count}, DefaultMaxNotifications)
		if got != tt.expected {
			t.Errorf("IsCapped(count=%d) = %v, expected %v", tt.count, got, tt.expected)
		}
	}
}

func TestRecordNotification(t *testing.T) {
	now := time.Now()
	h := TriggerHistory{}

	RecordNotification(&h, now)
	if h.ShownCount != 1 {
		t.Errorf("ShownCount = %d, expected 1", h.ShownCount)
	}
	if !h.LastShownAt.Equal(now) {
		t.Errorf("LastShownAt = %v, expected %v", h.LastShownAt, now)
	}

	later := now.Add(25 * time.Hour)
	RecordNotification(&h, later)
	if h.ShownCount != 2 {
		t.Errorf("ShownCount = %d, expected 2", h.ShownCount)
	}
	if !h.LastShownAt.Equal(later) {
		t.Errorf("LastShownAt = %v, expected %v", h.LastShownAt, later)
	}
}

func TestHistories_GetMissing(t *testing.T) {
	var histories Histories
	if h := histories.Get("catch-all"); h.HasShown() || h.ShownCount != 0 {
		t.Errorf("expected zero history, got %+v", h)
	}
}
