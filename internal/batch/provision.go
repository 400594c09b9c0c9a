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

// ProvisionRequest provisions one number per NPA for a tenant group.
type ProvisionRequest struct {
	GroupID              string
	NPAs                 []string
	VoiceCallbackType    string
	VoiceCallbackValue   string
	UpdateGroupDefaults  bool
	AutoCreateSubaccount bool
	Debug                bool
}

// provisionState is the per-NPA pipeline state, mutated only by the stage
// currently owning the item.
type provisionState struct {
	npa     string
	country domain.Country
	msisdn  string
}

// ProvisionBatch runs the SEARCH, BUY, CONFIGURE pipeline over every NPA.
// Each stage is one throttled run plus a single bounded retry pass over its
// rate-limited survivors; an item failed at a stage never enters the next.
func (e *Engine) ProvisionBatch(ctx context.Context, req ProvisionRequest) (Report, error) {
	const operation = "provision"

	if strings.TrimSpace(req.GroupID) == "" {
		return Report{}, fmt.Errorf("%w: groupid is required", domain.ErrValidation)
	}
	if len(req.NPAs) == 0 {
		return Report{}, fmt.Errorf("%w: at least one NPA is required", domain.ErrValidation)
	}

	snap, err := e.settings.Snapshot(ctx)
	if err != nil {
		return Report{}, err
	}
	target := e.notifyTarget(snap)

	creds, err := e.resolveCredentials(ctx, req.GroupID, req.AutoCreateSubaccount, target)
	if err != nil {
		return Report{}, err
	}

	e.metrics.IncBatch(operation)
	e.metrics.IncBatchInFlight(operation)
	defer e.metrics.DecBatchInFlight(operation)

	logger := e.logger.With(
		zap.String("groupid", req.GroupID),
		zap.String("account", creds.AccountName),
		zap.Int("npas", len(req.NPAs)))
	logger.Info("provisioning batch started",
		zap.Int("maxConcurrency", snap.MaxConcurrentRequests),
		zap.Duration("interWaveDelay", snap.DelayBetweenBatches))

	if req.UpdateGroupDefaults {
		if err := e.creds.SaveGroupDefaults(ctx, creds.AccountName, req.VoiceCallbackType, req.VoiceCallbackValue); err != nil {
			logger.Warn("failed to persist group callback defaults", zap.Error(err))
		} else {
			creds.DefaultVoiceCallbackType = req.VoiceCallbackType
			creds.DefaultVoiceCallbackValue = req.VoiceCallbackValue
		}
	}

	callCreds := vendor.Credentials{APIKey: creds.APIKey, APISecret: creds.APISecret}
	states := make([]provisionState, len(req.NPAs))
	outcomes := make([]Outcome, len(req.NPAs))
	for i, npa := range req.NPAs {
		states[i] = provisionState{npa: strings.TrimSpace(npa)}
		outcomes[i] = Outcome{ID: states[i].npa}
	}

	pending := make([]int, 0, len(req.NPAs))
	for i := range states {
		pending = append(pending, i)
	}

	// SEARCH
	pending = e.runProvisionStage(ctx, pending, outcomes, snap, failOnExhaustion,
		func(ctx context.Context, idx int) Outcome {
			return e.searchWorker(ctx, callCreds, &states[idx])
		})

	// BUY
	pending = e.runProvisionStage(ctx, pending, outcomes, snap, failOnExhaustion,
		func(ctx context.Context, idx int) Outcome {
			return e.buyWorker(ctx, callCreds, snap.BuyPolicy, &states[idx])
		})

	// CONFIGURE: the number is already acquired, so retry exhaustion and
	// vendor errors degrade to partial success instead of failing the item.
	configurePolicy := stageRetryPolicy{
		ExhaustedStatus: domain.StatusPartialSuccess,
		ExhaustedDetail: "number acquired, configuration rate limited on retry",
	}
	e.runProvisionStage(ctx, pending, outcomes, snap, configurePolicy,
		func(ctx context.Context, idx int) Outcome {
			return e.configureWorker(ctx, callCreds, req, creds, snap, &states[idx])
		})

	// Partially successful items own a number too, so they notify as well;
	// configuration_status tells the consumer which case it got.
	for _, outcome := range outcomes {
		if outcome.Status != domain.StatusSuccess && outcome.Status != domain.StatusPartialSuccess {
			continue
		}
		e.emitter.Emit(ctx, target, notify.Event{
			Type: notify.EventDIDProvisioned,
			Data: map[string]any{
				"groupid":              req.GroupID,
				"npa":                  outcome.ID,
				"did":                  outcome.MSISDN,
				"country":              outcome.Country.String(),
				"configuration_status": outcome.Status.String(),
			},
		})
	}

	e.recordOutcomes(operation, snap, outcomes)
	report := buildReport("batch provisioning completed", outcomes, req.Debug)
	logger.Info("provisioning batch completed",
		zap.Int("success", report.SuccessCount),
		zap.Int("partialSuccess", report.PartialSuccessCount),
		zap.Int("failed", report.FailedCount))
	return report, nil
}

// runProvisionStage runs one pipeline stage over the surviving item indexes
// and returns the indexes that passed it. Stage outcomes are folded into the
// shared per-item slots; only items whose stage outcome is success move on.
func (e *Engine) runProvisionStage(
	ctx context.Context,
	pending []int,
	outcomes []Outcome,
	snap settings.Snapshot,
	policy stageRetryPolicy,
	worker func(context.Context, int) Outcome,
) []int {
	if len(pending) == 0 {
		return nil
	}

	stageResults := runStageWithRetry(ctx, pending, worker, snap, e.sleep, policy)

	survivors := make([]int, 0, len(pending))
	for _, idx := range pending {
		outcome := stageResults[idx]
		outcome.ID = outcomes[idx].ID
		outcomes[idx] = outcome
		if outcome.Status == domain.StatusSuccess {
			survivors = append(survivors, idx)
		}
	}
	return survivors
}

func (e *Engine) searchWorker(ctx context.Context, creds vendor.Credentials, state *provisionState) Outcome {
	if err := domain.ValidateNPA(state.npa); err != nil {
		return Outcome{Status: domain.StatusFailed, Detail: fmt.Sprintf("invalid NPA %q", state.npa)}
	}

	country, ok := domain.CountryForNPA(state.npa)
	if !ok {
		return Outcome{Status: domain.StatusFailed, Detail: fmt.Sprintf("NPA not found: %q is not a known US/CA area code", state.npa)}
	}
	state.country = country

	result, err := e.gateway.SearchNumbers(ctx, creds, vendor.SearchParams{
		Country:  country,
		Pattern:  "1" + state.npa,
		Features: "VOICE",
		Size:     1,
	})
	if err != nil {
		if vendor.IsRateLimited(err) {
			return Outcome{Status: domain.StatusRateLimited, Detail: "number search rate limited"}
		}
		return Outcome{Status: domain.StatusFailed, Detail: fmt.Sprintf("number search failed: %v", err)}
	}
	if len(result.Numbers) == 0 {
		return Outcome{Status: domain.StatusFailed, Detail: fmt.Sprintf("no numbers available for NPA %s", state.npa)}
	}

	state.msisdn = result.Numbers[0].MSISDN
	return Outcome{
		Status:  domain.StatusSuccess,
		Detail:  "number found",
		MSISDN:  state.msisdn,
		Country: state.country,
	}
}

func (e *Engine) buyWorker(ctx context.Context, creds vendor.Credentials, policy settings.BuyRateLimitPolicy, state *provisionState) Outcome {
	err := e.gateway.BuyNumber(ctx, creds, state.country, state.msisdn, creds.APIKey)
	if err == nil {
		return Outcome{Status: domain.StatusSuccess, Detail: "number purchased", MSISDN: state.msisdn, Country: state.country}
	}

	if vendor.IsRateLimited(err) {
		return e.resolveBuyRateLimit(ctx, creds, policy, state)
	}
	return Outcome{Status: domain.StatusFailed, Detail: fmt.Sprintf("purchase failed: %v", err), MSISDN: state.msisdn, Country: state.country}
}

// resolveBuyRateLimit applies the configured policy to the vendor's 420
// answer on a buy, which may mean the purchase actually went through.
func (e *Engine) resolveBuyRateLimit(ctx context.Context, creds vendor.Credentials, policy settings.BuyRateLimitPolicy, state *provisionState) Outcome {
	switch policy {
	case settings.BuyPolicyAssumeSuccess:
		return Outcome{Status: domain.StatusSuccess, Detail: "purchase rate limited, assumed successful", MSISDN: state.msisdn, Country: state.country}
	case settings.BuyPolicyVerifyOwnership:
		owned, err := e.gateway.OwnsNumber(ctx, creds, state.msisdn)
		if err == nil && owned {
			return Outcome{Status: domain.StatusSuccess, Detail: "purchase rate limited, ownership confirmed", MSISDN: state.msisdn, Country: state.country}
		}
		if err != nil {
			e.logger.Warn("ownership verification after rate limit failed",
				zap.String("msisdn", state.msisdn), zap.Error(err))
		}
		return Outcome{Status: domain.StatusRateLimited, Detail: "purchase rate limited, ownership not confirmed", MSISDN: state.msisdn, Country: state.country}
	default:
		return Outcome{Status: domain.StatusRateLimited, Detail: "purchase rate limited", MSISDN: state.msisdn, Country: state.country}
	}
}

func (e *Engine) configureWorker(ctx context.Context, creds vendor.Credentials, req ProvisionRequest, group *vault.GroupCredentials, snap settings.Snapshot, state *provisionState) Outcome {
	callbackType := req.VoiceCallbackType
	callbackValue := req.VoiceCallbackValue
	if callbackType == "" {
		callbackType = group.DefaultVoiceCallbackType
	}
	if callbackValue == "" {
		callbackValue = group.DefaultVoiceCallbackValue
	}

	// Nothing to configure is not an error; the number is provisioned bare.
	if callbackType == "" && callbackValue == "" {
		return Outcome{Status: domain.StatusSuccess, Detail: "number provisioned, no routing configured", MSISDN: state.msisdn, Country: state.country}
	}

	callbackValue = SynthesizeSIPCallback(callbackType, callbackValue, state.msisdn, state.country)

	err := e.gateway.UpdateNumber(ctx, creds, state.country, state.msisdn, vendor.NumberConfig{
		VoiceCallbackType:  callbackType,
		VoiceCallbackValue: callbackValue,
	})
	if err == nil {
		return Outcome{Status: domain.StatusSuccess, Detail: "number provisioned", MSISDN: state.msisdn, Country: state.country}
	}
	if vendor.IsRateLimited(err) {
		if snap.Treat420AsSuccessCfg {
			return Outcome{Status: domain.StatusSuccess, Detail: "number provisioned, configuration assumed applied", MSISDN: state.msisdn, Country: state.country}
		}
		return Outcome{Status: domain.StatusRateLimited, Detail: "configuration rate limited", MSISDN: state.msisdn, Country: state.country}
	}
	return Outcome{
		Status:  domain.StatusPartialSuccess,
		Detail:  fmt.Sprintf("number acquired but configuration failed: %v", err),
		MSISDN:  state.msisdn,
		Country: state.country,
	}
}

// SynthesizeSIPCallback builds the final voice callback value. For type "sip"
// with a bare host value the national number is prepended as the SIP user
// part; values already containing "@" pass through unchanged.
func SynthesizeSIPCallback(callbackType, callbackValue, msisdn string, country domain.Country) string {
	if !strings.EqualFold(callbackType, "sip") {
		return callbackValue
	}
	if callbackValue == "" || strings.Contains(callbackValue, "@") {
		return callbackValue
	}
	return domain.NationalNumber(msisdn, country) + "@" + callbackValue
}
