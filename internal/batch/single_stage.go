package batch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/notify"
	"github.com/didware/did-engine/internal/settings"
	"github.com/didware/did-engine/internal/vault"
	"github.com/didware/did-engine/internal/vendor"
)

// DIDItem is one raw update or release descriptor. Country is an optional
// explicit 2-letter code; when empty the country is auto-detected from the
// DID's area code.
type DIDItem struct {
	DID     string
	Country string
}

// UpdateRequest reconfigures routing on a set of owned DIDs. When
// UpdateGroupDefaults is set the request's callback values become the stored
// group defaults after at least one item updates successfully.
type UpdateRequest struct {
	GroupID             string
	Items               []DIDItem
	VoiceCallbackType   string
	VoiceCallbackValue  string
	UpdateGroupDefaults bool
	Debug               bool
}

// ReleaseRequest cancels a set of owned DIDs.
type ReleaseRequest struct {
	GroupID string
	Items   []DIDItem
	Debug   bool
}

// resolvedDID is a structurally valid item ready for its vendor call.
type resolvedDID struct {
	msisdn  string
	country domain.Country
}

// UpdateBatch applies new routing configuration to every item through one
// throttled run plus the single bounded rate-limit retry pass.
func (e *Engine) UpdateBatch(ctx context.Context, req UpdateRequest) (Report, error) {
	const operation = "update"

	snap, group, outcomes, resolved, err := e.prepareSingleStage(ctx, operation, req.GroupID, req.Items)
	if err != nil {
		return Report{}, err
	}
	e.metrics.IncBatchInFlight(operation)
	defer e.metrics.DecBatchInFlight(operation)

	creds := vendor.Credentials{APIKey: group.APIKey, APISecret: group.APISecret}
	callbackType := req.VoiceCallbackType
	callbackValue := req.VoiceCallbackValue
	if callbackType == "" {
		callbackType = group.DefaultVoiceCallbackType
	}
	if callbackValue == "" {
		callbackValue = group.DefaultVoiceCallbackValue
	}

	e.runSingleStage(ctx, outcomes, resolved, snap, func(ctx context.Context, idx int) Outcome {
		item := resolved[idx]
		value := SynthesizeSIPCallback(callbackType, callbackValue, item.msisdn, item.country)
		err := e.gateway.UpdateNumber(ctx, creds, item.country, item.msisdn, vendor.NumberConfig{
			VoiceCallbackType:  callbackType,
			VoiceCallbackValue: value,
		})
		if err != nil && snap.Treat420AsSuccessCfg && vendor.IsRateLimited(err) {
			return Outcome{Status: domain.StatusSuccess, Detail: "update rate limited, assumed applied", MSISDN: item.msisdn, Country: item.country}
		}
		return classifyVendorCall(err, "updated", "update failed", item)
	})

	e.recordOutcomes(operation, snap, outcomes)
	report := buildReport("batch update completed", outcomes, req.Debug)

	if req.UpdateGroupDefaults && report.SuccessCount > 0 {
		if err := e.creds.SaveGroupDefaults(ctx, group.AccountName, req.VoiceCallbackType, req.VoiceCallbackValue); err != nil {
			e.logger.Warn("failed to persist group callback defaults",
				zap.String("groupid", req.GroupID), zap.Error(err))
		}
	}

	e.logger.Info("update batch completed",
		zap.String("groupid", req.GroupID),
		zap.Int("success", report.SuccessCount),
		zap.Int("failed", report.FailedCount))
	return report, nil
}

// ReleaseBatch cancels every item through one throttled run plus the single
// bounded rate-limit retry pass, notifying for each successful release.
func (e *Engine) ReleaseBatch(ctx context.Context, req ReleaseRequest) (Report, error) {
	const operation = "release"

	snap, group, outcomes, resolved, err := e.prepareSingleStage(ctx, operation, req.GroupID, req.Items)
	if err != nil {
		return Report{}, err
	}
	e.metrics.IncBatchInFlight(operation)
	defer e.metrics.DecBatchInFlight(operation)

	creds := vendor.Credentials{APIKey: group.APIKey, APISecret: group.APISecret}
	e.runSingleStage(ctx, outcomes, resolved, snap, func(ctx context.Context, idx int) Outcome {
		item := resolved[idx]
		err := e.gateway.CancelNumber(ctx, creds, item.country, item.msisdn)
		return classifyVendorCall(err, "released", "release failed", item)
	})

	target := e.notifyTarget(snap)
	for _, outcome := range outcomes {
		if outcome.Status != domain.StatusSuccess {
			continue
		}
		e.emitter.Emit(ctx, target, notify.Event{
			Type: notify.EventDIDReleased,
			Data: map[string]any{
				"groupid": req.GroupID,
				"did":     outcome.MSISDN,
				"country": outcome.Country.String(),
			},
		})
	}

	e.recordOutcomes(operation, snap, outcomes)
	report := buildReport("batch release completed", outcomes, req.Debug)
	e.logger.Info("release batch completed",
		zap.String("groupid", req.GroupID),
		zap.Int("success", report.SuccessCount),
		zap.Int("failed", report.FailedCount))
	return report, nil
}

// prepareSingleStage performs the shared front half of update and release
// batches: settings snapshot, credential resolution, and pre-flight item
// validation. Malformed items are failed in place without a vendor call.
func (e *Engine) prepareSingleStage(ctx context.Context, operation string, groupID string, items []DIDItem) (snap settings.Snapshot, group *vault.GroupCredentials, outcomes []Outcome, resolved map[int]resolvedDID, err error) {
	if strings.TrimSpace(groupID) == "" {
		err = fmt.Errorf("%w: groupid is required", domain.ErrValidation)
		return
	}
	if len(items) == 0 {
		err = fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
		return
	}

	snap, err = e.settings.Snapshot(ctx)
	if err != nil {
		return
	}

	group, err = e.resolveCredentials(ctx, groupID, false, e.notifyTarget(snap))
	if err != nil {
		return
	}

	e.metrics.IncBatch(operation)

	outcomes = make([]Outcome, len(items))
	resolved = make(map[int]resolvedDID, len(items))
	for i, item := range items {
		outcomes[i] = Outcome{ID: item.DID}

		if vErr := domain.ValidateDID(item.DID); vErr != nil {
			outcomes[i].Status = domain.StatusFailed
			outcomes[i].Detail = fmt.Sprintf("invalid DID %q: must contain 10 to 15 digits", item.DID)
			continue
		}

		var explicit domain.Country
		if item.Country != "" {
			parsed, pErr := domain.ParseCountryFromString(item.Country)
			if pErr != nil {
				outcomes[i].Status = domain.StatusFailed
				outcomes[i].Detail = fmt.Sprintf("invalid country %q", item.Country)
				continue
			}
			explicit = parsed
		}

		country, msisdn, rErr := domain.ResolveCountry(item.DID, explicit)
		if rErr != nil {
			outcomes[i].Status = domain.StatusFailed
			outcomes[i].Detail = fmt.Sprintf("could not determine country for DID %q, provide a country code", item.DID)
			continue
		}

		outcomes[i].MSISDN = msisdn
		outcomes[i].Country = country
		resolved[i] = resolvedDID{msisdn: msisdn, country: country}
	}

	return
}

// runSingleStage runs the throttled pass plus retry over the pre-validated
// item indexes and folds the outcomes back into their slots.
func (e *Engine) runSingleStage(ctx context.Context, outcomes []Outcome, resolved map[int]resolvedDID, snap settings.Snapshot, worker func(context.Context, int) Outcome) {
	pending := make([]int, 0, len(resolved))
	for i := range outcomes {
		if _, ok := resolved[i]; ok {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	stageResults := runStageWithRetry(ctx, pending, worker, snap, e.sleep, failOnExhaustion)
	for _, idx := range pending {
		outcome := stageResults[idx]
		outcome.ID = outcomes[idx].ID
		outcomes[idx] = outcome
	}
}

func classifyVendorCall(err error, successDetail string, failurePrefix string, item resolvedDID) Outcome {
	outcome := Outcome{MSISDN: item.msisdn, Country: item.country}
	switch {
	case err == nil:
		outcome.Status = domain.StatusSuccess
		outcome.Detail = successDetail
	case vendor.IsRateLimited(err):
		outcome.Status = domain.StatusRateLimited
		outcome.Detail = failurePrefix + ": vendor rate limit"
	default:
		outcome.Status = domain.StatusFailed
		outcome.Detail = fmt.Sprintf("%s: %v", failurePrefix, err)
	}
	return outcome
}
