package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/notify"
	"github.com/didware/did-engine/internal/observability"
	"github.com/didware/did-engine/internal/settings"
	"github.com/didware/did-engine/internal/vault"
	"github.com/didware/did-engine/internal/vendor"
)

// CredentialSource resolves tenant groups to decrypted vendor credentials.
type CredentialSource interface {
	ResolveGroup(ctx context.Context, groupID string) (*vault.GroupCredentials, error)
	Get(ctx context.Context, name string) (*vault.GroupCredentials, error)
	Save(ctx context.Context, params vault.SaveParams) error
	SaveGroupDefaults(ctx context.Context, name string, callbackType string, callbackValue string) error
}

// SettingsSource provides the per-batch settings snapshot.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// Report is the aggregate answer of a batch run. Results carries per-item
// outcomes in submission order and is nil unless the caller asked for detail.
type Report struct {
	Message             string
	Total               int
	SuccessCount        int
	FailedCount         int
	PartialSuccessCount int
	Results             []Outcome
}

// Engine drives multi-item DID lifecycle operations through staged,
// concurrency-bounded, rate-limit-aware pipelines.
type Engine struct {
	gateway  vendor.Gateway
	creds    CredentialSource
	settings SettingsSource
	emitter  notify.Emitter
	metrics  *observability.Metrics
	logger   *zap.Logger

	primaryAccountName string

	// sleep is injectable so tests run without real inter-wave delays.
	sleep func(time.Duration)
}

func NewEngine(
	gateway vendor.Gateway,
	creds CredentialSource,
	settingsSource SettingsSource,
	emitter notify.Emitter,
	metrics *observability.Metrics,
	logger *zap.Logger,
	primaryAccountName string,
) (*Engine, error) {
	if gateway == nil {
		return nil, fmt.Errorf("vendor gateway is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if settingsSource == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	if emitter == nil {
		emitter = notify.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		gateway:            gateway,
		creds:              creds,
		settings:           settingsSource,
		emitter:            emitter,
		metrics:            metrics,
		logger:             logger,
		primaryAccountName: primaryAccountName,
		sleep:              time.Sleep,
	}, nil
}

func (e *Engine) notifyTarget(snap settings.Snapshot) notify.Target {
	return notify.Target{
		Enabled: snap.NotificationsEnabled,
		URL:     snap.NotificationURL,
		Secret:  snap.NotificationSecret,
	}
}

// TestNotification emits a test event to the configured webhook.
func (e *Engine) TestNotification(ctx context.Context) error {
	snap, err := e.settings.Snapshot(ctx)
	if err != nil {
		return err
	}

	target := e.notifyTarget(snap)
	if !target.Enabled || target.URL == "" {
		return fmt.Errorf("%w: notifications are not configured", domain.ErrValidation)
	}

	e.emitter.Emit(ctx, target, notify.Event{
		Type: notify.EventTest,
		Data: map[string]any{"message": "test notification"},
	})
	return nil
}

// resolveCredentials resolves the tenant group's vendor credentials, creating
// the sub-account first when the caller opted in and none exists. After a
// create the group is re-resolved by id rather than trusting the just-written
// values. Any failure here aborts the batch before per-item work starts.
func (e *Engine) resolveCredentials(ctx context.Context, groupID string, autoCreate bool, target notify.Target) (*vault.GroupCredentials, error) {
	creds, err := e.creds.ResolveGroup(ctx, groupID)
	if err == nil {
		return creds, nil
	}
	if !autoCreate || !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	created, createErr := e.createSubaccount(ctx, groupID, target)
	if createErr != nil {
		return nil, createErr
	}

	e.logger.Info("sub-account created for group",
		zap.String("groupid", groupID),
		zap.String("apiKey", created.APIKey))

	return e.creds.ResolveGroup(ctx, groupID)
}

// createSubaccount provisions a vendor sub-account for a tenant group under
// the primary account and persists its credentials.
func (e *Engine) createSubaccount(ctx context.Context, groupID string, target notify.Target) (*vendor.Subaccount, error) {
	primary, err := e.creds.Get(ctx, e.primaryAccountName)
	if err != nil {
		return nil, fmt.Errorf("%w: no credential for groupid %q and primary account %q is unavailable", domain.ErrNotFound, groupID, e.primaryAccountName)
	}

	secret, err := vault.GenerateSecret()
	if err != nil {
		return nil, err
	}

	name := vault.SubaccountName(groupID)
	created, err := e.gateway.CreateSubaccount(ctx, vendor.Credentials{
		APIKey:    primary.APIKey,
		APISecret: primary.APISecret,
	}, vendor.CreateSubaccountParams{
		Name:                     name,
		Secret:                   secret,
		UsePrimaryAccountBalance: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sub-account creation for groupid %q failed: %v", domain.ErrNotFound, groupID, err)
	}

	if err := e.creds.Save(ctx, vault.SaveParams{
		Name:      name,
		APIKey:    created.APIKey,
		APISecret: secret,
	}); err != nil {
		return nil, fmt.Errorf("%w: sub-account for groupid %q created but could not be stored: %v", domain.ErrNotFound, groupID, err)
	}

	e.emitter.Emit(ctx, target, notify.Event{
		Type: notify.EventSubaccountCreated,
		Data: map[string]any{
			"groupid": groupID,
			"name":    name,
			"api_key": created.APIKey,
		},
	})

	return created, nil
}

// ListSubaccounts lists every vendor sub-account under the primary account.
func (e *Engine) ListSubaccounts(ctx context.Context) ([]vendor.Subaccount, error) {
	primary, err := e.creds.Get(ctx, e.primaryAccountName)
	if err != nil {
		return nil, err
	}
	return e.gateway.ListSubaccounts(ctx, vendor.Credentials{
		APIKey:    primary.APIKey,
		APISecret: primary.APISecret,
	})
}

// CreateSubaccount creates and stores a sub-account for a tenant group on
// explicit operator request.
func (e *Engine) CreateSubaccount(ctx context.Context, groupID string) (*vendor.Subaccount, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("%w: groupid is required", domain.ErrValidation)
	}

	snap, err := e.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := e.creds.ResolveGroup(ctx, groupID); err == nil {
		return nil, fmt.Errorf("%w: groupid %q already has a sub-account", domain.ErrConflict, groupID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	return e.createSubaccount(ctx, groupID, e.notifyTarget(snap))
}

// SaveGroupDefaults stores the per-group default callback configuration used
// when a batch omits explicit callback values.
func (e *Engine) SaveGroupDefaults(ctx context.Context, groupID string, callbackType string, callbackValue string) error {
	group, err := e.creds.ResolveGroup(ctx, groupID)
	if err != nil {
		return err
	}
	return e.creds.SaveGroupDefaults(ctx, group.AccountName, callbackType, callbackValue)
}

// stageRetryPolicy controls how a rate-limited item that stays rate-limited
// through the single retry pass is finally classified.
type stageRetryPolicy struct {
	ExhaustedStatus domain.ItemStatus
	ExhaustedDetail string
}

var failOnExhaustion = stageRetryPolicy{
	ExhaustedStatus: domain.StatusFailed,
	ExhaustedDetail: "failed on retry: vendor rate limit",
}

// runStageWithRetry runs one throttled pass over the given item indexes, then
// exactly one more pass over the items left rate-limited, separated by one
// extra inter-wave delay. Items rate-limited again take the policy's terminal
// status. The returned map has one terminal outcome per submitted index.
func runStageWithRetry(
	ctx context.Context,
	indexes []int,
	worker func(context.Context, int) Outcome,
	snap settings.Snapshot,
	sleep func(time.Duration),
	policy stageRetryPolicy,
) map[int]Outcome {
	results := make(map[int]Outcome, len(indexes))

	first := RunWaves(ctx, indexes, worker, snap.MaxConcurrentRequests, snap.DelayBetweenBatches, sleep)
	var retries []int
	for pos, idx := range indexes {
		if !first[pos].Status.Terminal() {
			retries = append(retries, idx)
			continue
		}
		results[idx] = first[pos]
	}

	if len(retries) == 0 {
		return results
	}

	if snap.DelayBetweenBatches > 0 {
		sleep(snap.DelayBetweenBatches)
	}

	second := RunWaves(ctx, retries, worker, snap.MaxConcurrentRequests, snap.DelayBetweenBatches, sleep)
	for pos, idx := range retries {
		outcome := second[pos]
		if !outcome.Status.Terminal() {
			outcome.Status = policy.ExhaustedStatus
			outcome.Detail = policy.ExhaustedDetail
		} else {
			outcome.Detail = strings.TrimSpace(outcome.Detail + " on retry")
		}
		results[idx] = outcome
	}

	return results
}

func buildReport(message string, outcomes []Outcome, debug bool) Report {
	report := Report{
		Message: message,
		Total:   len(outcomes),
	}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case domain.StatusSuccess:
			report.SuccessCount++
		case domain.StatusPartialSuccess:
			report.PartialSuccessCount++
		default:
			report.FailedCount++
		}
	}
	if debug {
		report.Results = outcomes
	}
	return report
}

func (e *Engine) recordOutcomes(operation string, snap settings.Snapshot, outcomes []Outcome) {
	for _, outcome := range outcomes {
		e.metrics.IncBatchItem(operation, outcome.Status.String())
		if snap.StoreLogsEnabled {
			e.logger.Info("batch item finished",
				zap.String("operation", operation),
				zap.String("id", outcome.ID),
				zap.String("status", outcome.Status.String()),
				zap.String("detail", outcome.Detail))
		}
	}
}
