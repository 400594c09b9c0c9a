package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/didware/did-engine/internal/batch"
	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/transport"
	"github.com/didware/did-engine/internal/vendor"
)

type fakeEngine struct {
	provisionBatchFunc func(ctx context.Context, req batch.ProvisionRequest) (batch.Report, error)
	updateBatchFunc    func(ctx context.Context, req batch.UpdateRequest) (batch.Report, error)
	releaseBatchFunc   func(ctx context.Context, req batch.ReleaseRequest) (batch.Report, error)
	provisionOneFunc   func(ctx context.Context, groupID string, item batch.DIDItem, callbackType, callbackValue string) (string, error)
	releaseOneFunc     func(ctx context.Context, groupID string, item batch.DIDItem) error
	createSubFunc      func(ctx context.Context, groupID string) (*vendor.Subaccount, error)
}

func (f *fakeEngine) ProvisionBatch(ctx context.Context, req batch.ProvisionRequest) (batch.Report, error) {
	if f.provisionBatchFunc != nil {
		return f.provisionBatchFunc(ctx, req)
	}
	return batch.Report{}, nil
}

func (f *fakeEngine) UpdateBatch(ctx context.Context, req batch.UpdateRequest) (batch.Report, error) {
	if f.updateBatchFunc != nil {
		return f.updateBatchFunc(ctx, req)
	}
	return batch.Report{}, nil
}

func (f *fakeEngine) ReleaseBatch(ctx context.Context, req batch.ReleaseRequest) (batch.Report, error) {
	if f.releaseBatchFunc != nil {
		return f.releaseBatchFunc(ctx, req)
	}
	return batch.Report{}, nil
}

func (f *fakeEngine) ProvisionOne(ctx context.Context, groupID string, item batch.DIDItem, callbackType, callbackValue string) (string, error) {
	if f.provisionOneFunc != nil {
		return f.provisionOneFunc(ctx, groupID, item, callbackType, callbackValue)
	}
	return item.DID, nil
}

func (f *fakeEngine) UpdateOne(context.Context, string, batch.DIDItem, string, string) error {
	return nil
}

func (f *fakeEngine) ReleaseOne(ctx context.Context, groupID string, item batch.DIDItem) error {
	if f.releaseOneFunc != nil {
		return f.releaseOneFunc(ctx, groupID, item)
	}
	return nil
}

func (f *fakeEngine) SaveGroupDefaults(context.Context, string, string, string) error {
	return nil
}

func (f *fakeEngine) ListSubaccounts(context.Context) ([]vendor.Subaccount, error) {
	return []vendor.Subaccount{{APIKey: "sub1", Name: "GroupId [acme-east]"}}, nil
}

func (f *fakeEngine) CreateSubaccount(ctx context.Context, groupID string) (*vendor.Subaccount, error) {
	if f.createSubFunc != nil {
		return f.createSubFunc(ctx, groupID)
	}
	return &vendor.Subaccount{APIKey: "sub1", Name: "GroupId [" + groupID + "]"}, nil
}

func (f *fakeEngine) TestNotification(context.Context) error {
	return nil
}

func newTestApp(t *testing.T, engine BatchEngine) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterDIDRoutes(app, engine); err != nil {
		t.Fatalf("RegisterDIDRoutes() error = %v", err)
	}
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) (int, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("response is not JSON: %v (%s)", err, raw)
		}
	}
	return resp.StatusCode, decoded
}

func TestProvisionBatchEndpointReturnsReport(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		provisionBatchFunc: func(_ context.Context, req batch.ProvisionRequest) (batch.Report, error) {
			if req.GroupID != "acme-east" || len(req.NPAs) != 2 {
				t.Errorf("request = %+v, want groupid acme-east with 2 NPAs", req)
			}
			return batch.Report{
				Message:      "batch provisioning completed",
				Total:        2,
				SuccessCount: 1,
				FailedCount:  1,
				Results: []batch.Outcome{
					{ID: "212", Status: domain.StatusSuccess, Detail: "number provisioned", MSISDN: "12125550100", Country: domain.CountryUS},
					{ID: "000", Status: domain.StatusFailed, Detail: "NPA not found"},
				},
			}, nil
		},
	}
	app := newTestApp(t, engine)

	status, body := postJSON(t, app, "/v1/dids/provision-batch", map[string]any{
		"groupid": "acme-east",
		"npas":    []string{"212", "000"},
		"debug":   true,
	})

	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["total_processed"] != float64(2) {
		t.Errorf("total_processed = %v, want 2", body["total_processed"])
	}
	if body["success_count"] != float64(1) || body["failed_count"] != float64(1) {
		t.Errorf("counts = %v/%v, want 1/1", body["success_count"], body["failed_count"])
	}

	results, ok := body["results"].([]any)
	if !ok || len(results) != 2 {
		t.Fatalf("results = %v, want 2 entries", body["results"])
	}
	first := results[0].(map[string]any)
	if first["id"] != "212" || first["status"] != "success" {
		t.Errorf("results[0] = %v, want 212 success", first)
	}
}

func TestProvisionBatchEndpointOmitsResultsWithoutDebug(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		provisionBatchFunc: func(_ context.Context, req batch.ProvisionRequest) (batch.Report, error) {
			return batch.Report{Message: "batch provisioning completed", Total: 1, SuccessCount: 1}, nil
		},
	}
	app := newTestApp(t, engine)

	status, body := postJSON(t, app, "/v1/dids/provision-batch", map[string]any{
		"groupid": "acme-east",
		"npas":    []string{"212"},
	})

	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if _, present := body["results"]; present {
		t.Error("results present in non-debug response")
	}
}

func TestBatchEndpointStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", fmt.Errorf("%w: groupid is required", domain.ErrValidation), fiber.StatusBadRequest},
		{"credential resolution", fmt.Errorf("%w: no credential for groupid", domain.ErrNotFound), fiber.StatusNotFound},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			engine := &fakeEngine{
				provisionBatchFunc: func(context.Context, batch.ProvisionRequest) (batch.Report, error) {
					return batch.Report{}, tc.err
				},
			}
			app := newTestApp(t, engine)

			req := httptest.NewRequest("POST", "/v1/dids/provision-batch", bytes.NewReader([]byte(`{"groupid":"g","npas":["212"]}`)))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestSingleReleaseEndpointMapsGatewayErrorTo502(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		releaseOneFunc: func(context.Context, string, batch.DIDItem) error {
			return &vendor.GatewayError{StatusCode: 500, Operation: "number.cancel", Message: "server error"}
		},
	}
	app := newTestApp(t, engine)

	status, _ := postJSON(t, app, "/v1/dids/release", map[string]any{
		"groupid": "acme-east",
		"did":     "12125550100",
	})
	if status != fiber.StatusBadGateway {
		t.Errorf("status = %d, want 502", status)
	}
}

func TestUpdateBatchEndpointPassesItems(t *testing.T) {
	t.Parallel()

	var got batch.UpdateRequest
	engine := &fakeEngine{
		updateBatchFunc: func(_ context.Context, req batch.UpdateRequest) (batch.Report, error) {
			got = req
			return batch.Report{Message: "batch update completed", Total: len(req.Items)}, nil
		},
	}
	app := newTestApp(t, engine)

	status, _ := postJSON(t, app, "/v1/dids/update-batch", map[string]any{
		"groupid":               "acme-east",
		"items":                 []map[string]string{{"did": "12125550100"}, {"did": "442071234567", "country": "GB"}},
		"voice_callback_type":   "sip",
		"voice_callback_value":  "sbc.example.com",
		"update_group_defaults": true,
	})

	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(got.Items) != 2 || got.Items[1].Country != "GB" {
		t.Errorf("items = %+v, want 2 items with explicit GB on second", got.Items)
	}
	if got.VoiceCallbackType != "sip" {
		t.Errorf("callback type = %q, want sip", got.VoiceCallbackType)
	}
	if !got.UpdateGroupDefaults {
		t.Error("UpdateGroupDefaults = false, want flag passed through")
	}
}

func TestCreateSubaccountEndpoint(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &fakeEngine{})

	status, body := postJSON(t, app, "/v1/subaccounts", map[string]any{"groupid": "new-group"})
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}
	if body["name"] != "GroupId [new-group]" {
		t.Errorf("name = %v, want bracketed group name", body["name"])
	}
}
