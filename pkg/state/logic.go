// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package state

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultRateLimitWindow is the minimum gap between two notifications
	// of the same kind.
	DefaultRateLimitWindow = 24 * time.Hour
	// DefaultMaxNotifications caps how many times a kind is ever recorded.
	DefaultMaxNotifications = 3
)

// IsRateLimited checks whether the kind was recorded less than window ago.
// A history that was never recorded is never rate limited.
func IsRateLimited(h TriggerHistory, now time.Time, window time.Duration) bool {
	if !h.HasShown() {
		return false
	}

	elapsed := now.Sub(h.LastShownAt)
	if elapsed < window {
		logrus.Debugf("rate limited: last shown %v ago (window %v)", elapsed, window)
		return true
	}

	return false
}

// IsCapped checks whether the kind reached the notification cap
func IsCapped(h TriggerHistory, max int) bool {
	if h.ShownCount >= max {
		logrus.Debugf("capped: shown %d times (max %d)", h.ShownCount, max)
		return true
	}
	return false
}

// RecordNotification bumps the count and stamps the last shown time.
// Both shown and shadow evaluations are recorded.
func RecordNotification(h *TriggerHistory, now time.Time) {
	h.ShownCount++
	h.LastShownAt = now

	logrus.Debugf("recorded notification #%d at %v", h.ShownCount, now)
}
