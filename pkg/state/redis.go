// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPrefix namespaces every study preference key.
	DefaultPrefix = "extensions.vpn-recommendation-study-1_shield_mozilla_org"

	KeyDontShowChecked   = ".dontShowChecked"
	KeyNotificationCount = ".notificationCount"
	KeyLastNotification  = ".lastNotification"
	KeyStarted           = ".started"
	KeyVariation         = ".variation"
	KeyDebugMode         = ".debug_mode"
	KeyCatchAllTimerMins = ".test.catchAllTimerMins"
	KeyVariationName     = ".test.variationName"

	maxTxRetries  = 5
	resetScanSize = 100
)

// ErrTxConflict is returned when the history transaction kept losing the
// optimistic lock.
var ErrTxConflict = errors.New("history update conflicted too many times")

// RedisStore keeps the study preferences in Redis under a fixed prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a preference store. An empty prefix uses DefaultPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Key returns the full Redis key for a preference suffix
func (s *RedisStore) Key(suffix string) string {
	return s.prefix + suffix
}

// Prefix returns the namespace of the store.
func (s *RedisStore) Prefix() string {
	return s.prefix
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func (s *RedisStore) historyKeys() []string {
	return []string{s.Key(KeyNotificationCount), s.Key(KeyLastNotification)}
}

func (s *RedisStore) readHistories(ctx context.Context, c multiGetter) (Histories, error) {
	values, err := c.MGet(ctx, s.historyKeys()...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read histories: %w", err)
	}
	return decodeHistories(values[0], values[1])
}

// Histories loads every trigger history.
func (s *RedisStore) Histories(ctx context.Context) (Histories, error) {
	return s.readHistories(ctx, s.client)
}

// History loads the history of one kind.
func (s *RedisStore) History(ctx context.Context, kind study.TriggerKind) (TriggerHistory, error) {
	histories, err := s.Histories(ctx)
	if err != nil {
		return TriggerHistory{}, err
	}
	return histories.Get(kind), nil
}

// UpdateHistory applies fn to the history of kind inside one optimistic
// transaction covering both history keys, and returns the stored result.
func (s *RedisStore) UpdateHistory(
	ctx context.Context,
	kind study.TriggerKind,
	fn func(h *TriggerHistory),
) (TriggerHistory, error) {
	keys := s.historyKeys()
	var updated TriggerHistory

	txf := func(tx *redis.Tx) error {
		histories, err := s.readHistories(ctx, tx)
		if err != nil {
			return err
		}

		h := histories.Get(kind)
		fn(&h)
		histories[kind] = h

		counts, last, err := encodeHistories(histories)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keys[0], counts, 0)
			pipe.Set(ctx, keys[1], last, 0)
			return nil
		})
		if err != nil {
			return err
		}

		updated = h
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if err == nil {
			logrus.Debugf("history for %s updated: count=%d", kind, updated.ShownCount)
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			logrus.Debugf("history update for %s conflicted (attempt %d/%d)", kind, i+1, maxTxRetries)
			continue
		}
		return TriggerHistory{}, fmt.Errorf("failed to update history for %s: %w", kind, err)
	}

	return TriggerHistory{}, fmt.Errorf("%w: %s", ErrTxConflict, kind)
}

// OptOut reads the "don't show again" flag.
func (s *RedisStore) OptOut(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyDontShowChecked)
}

// SetOptOut writes the "don't show again" flag.
func (s *RedisStore) SetOptOut(ctx context.Context, checked bool) error {
	return s.setBool(ctx, KeyDontShowChecked, checked)
}

// Started reads the study started marker.
func (s *RedisStore) Started(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyStarted)
}

// MarkStarted sets the study started marker.
func (s *RedisStore) MarkStarted(ctx context.Context) error {
	return s.setBool(ctx, KeyStarted, true)
}

// Variation reads the assigned variation marker, empty when unset.
func (s *RedisStore) Variation(ctx context.Context) (string, error) {
	return s.getString(ctx, KeyVariation)
}

// SetVariation writes the assigned variation marker.
func (s *RedisStore) SetVariation(ctx context.Context, v study.Variation) error {
	return s.set(ctx, KeyVariation, string(v))
}

// VariationOverride reads the testing override of the variation name.
func (s *RedisStore) VariationOverride(ctx context.Context) (string, error) {
	return s.getString(ctx, KeyVariationName)
}

// SetVariationOverride writes the testing override of the variation name.
func (s *RedisStore) SetVariationOverride(ctx context.Context, name string) error {
	return s.set(ctx, KeyVariationName, name)
}

// DebugMode reads the debug logging toggle.
func (s *RedisStore) DebugMode(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyDebugMode)
}

// SetDebugMode writes the debug logging toggle.
func (s *RedisStore) SetDebugMode(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, KeyDebugMode, enabled)
}

// CatchAllDelayOverride reads the catch-all delay override. ok is false
// when no positive override is stored.
func (s *RedisStore) CatchAllDelayOverride(ctx context.Context) (delay time.Duration, ok bool, err error) {
	raw, err := s.getString(ctx, KeyCatchAllTimerMins)
	if err != nil || raw == "" {
		return 0, false, err
	}

	mins, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s value %q: %w", KeyCatchAllTimerMins, raw, err)
	}
	if mins <= 0 {
		return 0, false, nil
	}

	return time.Duration(mins) * time.Minute, true, nil
}

// SetCatchAllDelayOverride writes the catch-all delay override in minutes.
func (s *RedisStore) SetCatchAllDelayOverride(ctx context.Context, mins int) error {
	return s.set(ctx, KeyCatchAllTimerMins, strconv.Itoa(mins))
}

// Snapshot reads every preference at once.
func (s *RedisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)

	if snap.Started, err = s.Started(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Variation, err = s.Variation(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.OptOut, err = s.OptOut(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.DebugMode, err = s.DebugMode(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Histories, err = s.Histories(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.VariationOverride, err = s.VariationOverride(ctx); err != nil {
		return Snapshot{}, err
	}
	if delay, ok, err := s.CatchAllDelayOverride(ctx); err == nil && ok {
		snap.CatchAllDelayMins = int(delay / time.Minute)
	}

	return snap, nil
}

// Reset deletes every key under the prefix.
func (s *RedisStore) Reset(ctx context.Context) error {
	pattern := escapeGlob(s.prefix) + "*"

	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, resetScanSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan preferences: %w", err)
		}

		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to delete preferences: %w", err)
			}
			deleted += n
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	logrus.Infof("reset %d preference keys under %s", deleted, s.prefix)
	return nil
}

func (s *RedisStore) set(ctx context.Context, suffix, value string) error {
	if err := s.client.Set(ctx, s.Key(suffix), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", suffix, err)
	}
	return nil
}

func (s *RedisStore) getString(ctx context.Context, suffix string) (string, error) {
	value, err := s.client.Get(ctx, s.Key(suffix)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", suffix, err)
	}
	return value, nil
}

func (s *RedisStore) getBool(ctx context.Context, suffix string) (bool, error) {
	raw, err := s.getString(ctx, suffix)
	if err != nil || raw == "" {
		return false, err
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", suffix, raw, err)
	}
	return value, nil
}

func (s *RedisStore) setBool(ctx context.Context, suffix string, value bool) error {
	return s.set(ctx, suffix, strconv.FormatBool(value))
}

// decodeHistories joins the count map and the last-shown map (unix ms)
// into Histories. Either value may be nil when the key is absent.
func decodeHistories(rawCounts, rawLast interface{}) (Histories, error) {
	histories := Histories{}

	if raw, ok := rawCounts.(string); ok && raw != "" {
		var counts map[string]int
		if err := json.Unmarshal([]byte(raw), &counts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification counts: %w", err)
		}
		for kind, count := range counts {
			h := histories[study.TriggerKind(kind)]
			h.ShownCount = count
			histories[study.TriggerKind(kind)] = h
		}
	}

	if raw, ok := rawLast.(string); ok && raw != "" {
		var last map[string]int64
		if err := json.Unmarshal([]byte(raw), &last); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last notification times: %w", err)
		}
		for kind, ms := range last {
			h := histories[study.TriggerKind(kind)]
			if ms > 0 {
				h.LastShownAt = time.UnixMilli(ms)
			}
			histories[study.TriggerKind(kind)] = h
		}
	}

	return histories, nil
}

func encodeHistories(histories Histories) (counts []byte, last []byte, err error) {
	countMap := make(map[string]int, len(histories))
	lastMap := make(map[string]int64, len(histories))
	for kind, h := range histories {
		countMap[string(kind)] = h.ShownCount
		if h.HasShown() {
			lastMap[string(kind)] = h.LastShownAt.UnixMilli()
		}
	}

	if counts, err = json.Marshal(countMap); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal notification counts: %w", err)
	}
	if last, err = json.Marshal(lastMap); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal last notification times: %w", err)
	}
	return counts, last, nil
}

func escapeGlob(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(s)
}
