package batch

import (
	"context"
	"fmt"

	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/notify"
	"github.com/didware/did-engine/internal/vault"
	"github.com/didware/did-engine/internal/vendor"
)

// Single-item operations are synchronous call-throughs to the vendor: one
// credential resolution, one (or two) vendor calls, errors surfaced to the
// caller instead of being folded into a report.

// ProvisionOne buys a specific DID for a tenant group and applies routing
// configuration when one is given or stored as a group default.
func (e *Engine) ProvisionOne(ctx context.Context, groupID string, item DIDItem, callbackType, callbackValue string) (string, error) {
	group, msisdn, country, err := e.resolveOne(ctx, groupID, item)
	if err != nil {
		return "", err
	}
	creds := vendor.Credentials{APIKey: group.APIKey, APISecret: group.APISecret}

	if err := e.gateway.BuyNumber(ctx, creds, country, msisdn, creds.APIKey); err != nil {
		return "", err
	}

	if callbackType == "" {
		callbackType = group.DefaultVoiceCallbackType
	}
	if callbackValue == "" {
		callbackValue = group.DefaultVoiceCallbackValue
	}
	if callbackType != "" || callbackValue != "" {
		value := SynthesizeSIPCallback(callbackType, callbackValue, msisdn, country)
		if err := e.gateway.UpdateNumber(ctx, creds, country, msisdn, vendor.NumberConfig{
			VoiceCallbackType:  callbackType,
			VoiceCallbackValue: value,
		}); err != nil {
			return msisdn, fmt.Errorf("number acquired but configuration failed: %w", err)
		}
	}

	snap, snapErr := e.settings.Snapshot(ctx)
	if snapErr == nil {
		e.emitter.Emit(ctx, e.notifyTarget(snap), notify.Event{
			Type: notify.EventDIDProvisioned,
			Data: map[string]any{"groupid": groupID, "did": msisdn, "country": country.String()},
		})
	}

	return msisdn, nil
}

// UpdateOne reconfigures routing on one owned DID.
func (e *Engine) UpdateOne(ctx context.Context, groupID string, item DIDItem, callbackType, callbackValue string) error {
	group, msisdn, country, err := e.resolveOne(ctx, groupID, item)
	if err != nil {
		return err
	}

	if callbackType == "" {
		callbackType = group.DefaultVoiceCallbackType
	}
	if callbackValue == "" {
		callbackValue = group.DefaultVoiceCallbackValue
	}
	value := SynthesizeSIPCallback(callbackType, callbackValue, msisdn, country)

	return e.gateway.UpdateNumber(ctx, vendor.Credentials{APIKey: group.APIKey, APISecret: group.APISecret},
		country, msisdn, vendor.NumberConfig{
			VoiceCallbackType:  callbackType,
			VoiceCallbackValue: value,
		})
}

// ReleaseOne cancels one owned DID.
func (e *Engine) ReleaseOne(ctx context.Context, groupID string, item DIDItem) error {
	group, msisdn, country, err := e.resolveOne(ctx, groupID, item)
	if err != nil {
		return err
	}

	if err := e.gateway.CancelNumber(ctx, vendor.Credentials{APIKey: group.APIKey, APISecret: group.APISecret}, country, msisdn); err != nil {
		return err
	}

	snap, snapErr := e.settings.Snapshot(ctx)
	if snapErr == nil {
		e.emitter.Emit(ctx, e.notifyTarget(snap), notify.Event{
			Type: notify.EventDIDReleased,
			Data: map[string]any{"groupid": groupID, "did": msisdn, "country": country.String()},
		})
	}
	return nil
}

func (e *Engine) resolveOne(ctx context.Context, groupID string, item DIDItem) (group *vault.GroupCredentials, msisdn string, country domain.Country, err error) {
	if err = domain.ValidateDID(item.DID); err != nil {
		return nil, "", "", err
	}

	var explicit domain.Country
	if item.Country != "" {
		explicit, err = domain.ParseCountryFromString(item.Country)
		if err != nil {
			return nil, "", "", err
		}
	}

	country, msisdn, err = domain.ResolveCountry(item.DID, explicit)
	if err != nil {
		return nil, "", "", err
	}

	snap, err := e.settings.Snapshot(ctx)
	if err != nil {
		return nil, "", "", err
	}
	group, err = e.resolveCredentials(ctx, groupID, false, e.notifyTarget(snap))
	if err != nil {
		return nil, "", "", err
	}
	return group, msisdn, country, nil
}
