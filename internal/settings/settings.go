package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/repository"
)

// Setting keys as stored in the settings table.
const (
	KeyMaxConcurrentRequests  = "max_concurrent_requests"
	KeyDelayBetweenBatchesMs  = "delay_between_batches_ms"
	KeyTreat420AsSuccessBuy   = "treat_420_as_success_buy"
	KeyVerifyOn420Buy         = "verify_on_420_buy"
	KeyTreat420AsSuccessCfg   = "treat_420_as_success_configure"
	KeyStoreLogsEnabled       = "store_logs_enabled"
	KeyNotificationsEnabled   = "notifications_enabled"
	KeyNotificationWebhookURL = "notification_webhook_url"
	KeyNotificationSecret     = "notification_webhook_secret"
)

const (
	defaultMaxConcurrentRequests = 5
	defaultDelayBetweenBatches   = 1000 * time.Millisecond

	cacheTTL = 30 * time.Second
)

// BuyRateLimitPolicy selects what a buy attempt does when the vendor answers
// with its rate-limit status after the retry pass is exhausted.
type BuyRateLimitPolicy int

const (
	// BuyPolicyRetry leaves the rate-limited item failed.
	BuyPolicyRetry BuyRateLimitPolicy = iota
	// BuyPolicyAssumeSuccess counts the buy as done without checking.
	BuyPolicyAssumeSuccess
	// BuyPolicyVerifyOwnership asks the vendor whether the number landed in
	// the target account before deciding.
	BuyPolicyVerifyOwnership
)

func (p BuyRateLimitPolicy) String() string {
	switch p {
	case BuyPolicyAssumeSuccess:
		return "assume-success"
	case BuyPolicyVerifyOwnership:
		return "verify-ownership"
	default:
		return "retry"
	}
}

// Snapshot is an immutable read of every tunable taken once at the start of a
// batch, so settings edits mid-flight never split a batch's behavior.
type Snapshot struct {
	MaxConcurrentRequests int
	DelayBetweenBatches   time.Duration
	BuyPolicy             BuyRateLimitPolicy
	Treat420AsSuccessCfg  bool
	StoreLogsEnabled      bool
	NotificationsEnabled  bool
	NotificationURL       string
	NotificationSecret    string
}

// Store reads tunables from the settings table through a short-lived cache and
// writes through it with immediate invalidation.
type Store struct {
	repo   repository.SettingRepository
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	cached    map[string]string
	fetchedAt time.Time
}

func NewStore(repo repository.SettingRepository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Store) all(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetchedAt) < cacheTTL {
		return s.cached, nil
	}

	values, err := s.repo.GetAll(ctx)
	if err != nil {
		if s.cached != nil {
			s.logger.Warn("settings refresh failed, serving stale values", zap.Error(err))
			return s.cached, nil
		}
		return nil, err
	}

	s.cached = values
	s.fetchedAt = s.now()
	return values, nil
}

// Invalidate drops the cache so the next read hits the database.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Save writes one setting and invalidates the cache.
func (s *Store) Save(ctx context.Context, key string, value string) error {
	if !isKnownKey(key) {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrValidation, key)
	}
	if err := s.repo.Save(ctx, key, value); err != nil {
		return err
	}
	s.Invalidate()
	s.logger.Info("setting updated", zap.String("key", key))
	return nil
}

// All returns the raw stored settings with defaults filled in for missing
// keys, for the admin listing endpoint.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	values := map[string]string{
		KeyMaxConcurrentRequests:  strconv.Itoa(defaultMaxConcurrentRequests),
		KeyDelayBetweenBatchesMs:  strconv.Itoa(int(defaultDelayBetweenBatches.Milliseconds())),
		KeyTreat420AsSuccessBuy:   "false",
		KeyVerifyOn420Buy:         "false",
		KeyTreat420AsSuccessCfg:   "false",
		KeyStoreLogsEnabled:       "true",
		KeyNotificationsEnabled:   "false",
		KeyNotificationWebhookURL: "",
		KeyNotificationSecret:     "",
	}
	for key, value := range stored {
		values[key] = value
	}
	return values, nil
}

// Snapshot materializes a typed, immutable view of the current settings.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	values, err := s.all(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		MaxConcurrentRequests: intSetting(values, KeyMaxConcurrentRequests, defaultMaxConcurrentRequests),
		DelayBetweenBatches:   time.Duration(intSetting(values, KeyDelayBetweenBatchesMs, int(defaultDelayBetweenBatches.Milliseconds()))) * time.Millisecond,
		Treat420AsSuccessCfg:  boolSetting(values, KeyTreat420AsSuccessCfg, false),
		StoreLogsEnabled:      boolSetting(values, KeyStoreLogsEnabled, true),
		NotificationsEnabled:  boolSetting(values, KeyNotificationsEnabled, false),
		NotificationURL:       values[KeyNotificationWebhookURL],
		NotificationSecret:    values[KeyNotificationSecret],
	}
	if snap.MaxConcurrentRequests < 1 {
		snap.MaxConcurrentRequests = 1
	}
	if snap.DelayBetweenBatches < 0 {
		snap.DelayBetweenBatches = 0
	}

	// Verification takes precedence when both buy policies are enabled.
	switch {
	case boolSetting(values, KeyVerifyOn420Buy, false):
		snap.BuyPolicy = BuyPolicyVerifyOwnership
	case boolSetting(values, KeyTreat420AsSuccessBuy, false):
		snap.BuyPolicy = BuyPolicyAssumeSuccess
	default:
		snap.BuyPolicy = BuyPolicyRetry
	}

	return snap, nil
}

func intSetting(values map[string]string, key string, fallback int) int {
	raw, ok := values[key]
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return parsed
}

func boolSetting(values map[string]string, key string, fallback bool) bool {
	raw, ok := values[key]
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

func isKnownKey(key string) bool {
	switch key {
	case KeyMaxConcurrentRequests, KeyDelayBetweenBatchesMs,
		KeyTreat420AsSuccessBuy, KeyVerifyOn420Buy, KeyTreat420AsSuccessCfg,
		KeyStoreLogsEnabled, KeyNotificationsEnabled,
		KeyNotificationWebhookURL, KeyNotificationSecret:
		return true
	}
	return false
}
