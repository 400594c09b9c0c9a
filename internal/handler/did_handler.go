package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/didware/did-engine/internal/batch"
	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/vendor"
)

type BatchEngine interface {
	ProvisionBatch(ctx context.Context, req batch.ProvisionRequest) (batch.Report, error)
	UpdateBatch(ctx context.Context, req batch.UpdateRequest) (batch.Report, error)
	ReleaseBatch(ctx context.Context, req batch.ReleaseRequest) (batch.Report, error)
	ProvisionOne(ctx context.Context, groupID string, item batch.DIDItem, callbackType, callbackValue string) (string, error)
	UpdateOne(ctx context.Context, groupID string, item batch.DIDItem, callbackType, callbackValue string) error
	ReleaseOne(ctx context.Context, groupID string, item batch.DIDItem) error
	SaveGroupDefaults(ctx context.Context, groupID string, callbackType string, callbackValue string) error
	ListSubaccounts(ctx context.Context) ([]vendor.Subaccount, error)
	CreateSubaccount(ctx context.Context, groupID string) (*vendor.Subaccount, error)
	TestNotification(ctx context.Context) error
}

type DIDHandler struct {
	engine BatchEngine
}

func NewDIDHandler(engine BatchEngine) (*DIDHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("batch engine is required")
	}
	return &DIDHandler{engine: engine}, nil
}

func RegisterDIDRoutes(router fiber.Router, engine BatchEngine) error {
	h, err := NewDIDHandler(engine)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/dids/provision-batch", h.ProvisionBatch)
	v1.Post("/dids/update-batch", h.UpdateBatch)
	v1.Post("/dids/release-batch", h.ReleaseBatch)
	v1.Post("/dids/provision", h.ProvisionOne)
	v1.Post("/dids/update", h.UpdateOne)
	v1.Post("/dids/release", h.ReleaseOne)
	v1.Put("/groups/:groupid/defaults", h.SaveGroupDefaults)
	v1.Get("/subaccounts", h.ListSubaccounts)
	v1.Post("/subaccounts", h.CreateSubaccount)
	v1.Post("/notifications/test", h.TestNotification)

	return nil
}

type provisionBatchRequest struct {
	GroupID              string   `json:"groupid"`
	NPAs                 []string `json:"npas"`
	VoiceCallbackType    string   `json:"voice_callback_type"`
	VoiceCallbackValue   string   `json:"voice_callback_value"`
	UpdateGroupDefaults  bool     `json:"update_group_defaults"`
	AutoCreateSubaccount bool     `json:"auto_create_subaccount"`
	Debug                bool     `json:"debug"`
}

type didItemRequest struct {
	DID     string `json:"did"`
	Country string `json:"country,omitempty"`
}

type updateBatchRequest struct {
	GroupID             string           `json:"groupid"`
	Items               []didItemRequest `json:"items"`
	VoiceCallbackType   string           `json:"voice_callback_type"`
	VoiceCallbackValue  string           `json:"voice_callback_value"`
	UpdateGroupDefaults bool             `json:"update_group_defaults"`
	Debug               bool             `json:"debug"`
}

type releaseBatchRequest struct {
	GroupID string           `json:"groupid"`
	Items   []didItemRequest `json:"items"`
	Debug   bool             `json:"debug"`
}

type singleDIDRequest struct {
	GroupID            string `json:"groupid"`
	DID                string `json:"did"`
	Country            string `json:"country,omitempty"`
	VoiceCallbackType  string `json:"voice_callback_type,omitempty"`
	VoiceCallbackValue string `json:"voice_callback_value,omitempty"`
}

type groupDefaultsRequest struct {
	VoiceCallbackType  string `json:"voice_callback_type"`
	VoiceCallbackValue string `json:"voice_callback_value"`
}

type createSubaccountRequest struct {
	GroupID string `json:"groupid"`
}

type batchItemResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Detail  string `json:"detail"`
	DID     string `json:"did,omitempty"`
	Country string `json:"country,omitempty"`
}

type batchReportResponse struct {
	Message             string              `json:"message"`
	TotalProcessed      int                 `json:"total_processed"`
	SuccessCount        int                 `json:"success_count"`
	FailedCount         int                 `json:"failed_count"`
	PartialSuccessCount *int                `json:"partial_success_count,omitempty"`
	Results             []batchItemResponse `json:"results,omitempty"`
}

func (h *DIDHandler) ProvisionBatch(c *fiber.Ctx) error {
	var req provisionBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	report, err := h.engine.ProvisionBatch(c.Context(), batch.ProvisionRequest{
		GroupID:              strings.TrimSpace(req.GroupID),
		NPAs:                 req.NPAs,
		VoiceCallbackType:    req.VoiceCallbackType,
		VoiceCallbackValue:   req.VoiceCallbackValue,
		UpdateGroupDefaults:  req.UpdateGroupDefaults,
		AutoCreateSubaccount: req.AutoCreateSubaccount,
		Debug:                req.Debug,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toReportResponse(report, true))
}

func (h *DIDHandler) UpdateBatch(c *fiber.Ctx) error {
	var req updateBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	report, err := h.engine.UpdateBatch(c.Context(), batch.UpdateRequest{
		GroupID:             strings.TrimSpace(req.GroupID),
		Items:               toBatchItems(req.Items),
		VoiceCallbackType:   req.VoiceCallbackType,
		VoiceCallbackValue:  req.VoiceCallbackValue,
		UpdateGroupDefaults: req.UpdateGroupDefaults,
		Debug:               req.Debug,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toReportResponse(report, false))
}

func (h *DIDHandler) ReleaseBatch(c *fiber.Ctx) error {
	var req releaseBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	report, err := h.engine.ReleaseBatch(c.Context(), batch.ReleaseRequest{
		GroupID: strings.TrimSpace(req.GroupID),
		Items:   toBatchItems(req.Items),
		Debug:   req.Debug,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toReportResponse(report, false))
}

func (h *DIDHandler) ProvisionOne(c *fiber.Ctx) error {
	req, err := parseSingleDIDRequest(c)
	if err != nil {
		return toHTTPError(err)
	}

	msisdn, err := h.engine.ProvisionOne(c.Context(), req.GroupID,
		batch.DIDItem{DID: req.DID, Country: req.Country},
		req.VoiceCallbackType, req.VoiceCallbackValue)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "DID provisioned",
		"did":     msisdn,
	})
}

func (h *DIDHandler) UpdateOne(c *fiber.Ctx) error {
	req, err := parseSingleDIDRequest(c)
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.engine.UpdateOne(c.Context(), req.GroupID,
		batch.DIDItem{DID: req.DID, Country: req.Country},
		req.VoiceCallbackType, req.VoiceCallbackValue); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "DID updated",
		"did":     req.DID,
	})
}

func (h *DIDHandler) ReleaseOne(c *fiber.Ctx) error {
	req, err := parseSingleDIDRequest(c)
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.engine.ReleaseOne(c.Context(), req.GroupID, batch.DIDItem{DID: req.DID, Country: req.Country}); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "DID released",
		"did":     req.DID,
	})
}

func (h *DIDHandler) SaveGroupDefaults(c *fiber.Ctx) error {
	groupID := strings.TrimSpace(c.Params("groupid"))
	if groupID == "" {
		return toHTTPError(fmt.Errorf("%w: groupid is required", domain.ErrValidation))
	}

	var req groupDefaultsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.engine.SaveGroupDefaults(c.Context(), groupID, req.VoiceCallbackType, req.VoiceCallbackValue); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "group defaults updated",
		"groupid": groupID,
	})
}

func (h *DIDHandler) ListSubaccounts(c *fiber.Ctx) error {
	subaccounts, err := h.engine.ListSubaccounts(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"subaccounts": subaccounts,
	})
}

func (h *DIDHandler) CreateSubaccount(c *fiber.Ctx) error {
	var req createSubaccountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.engine.CreateSubaccount(c.Context(), strings.TrimSpace(req.GroupID))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "sub-account created",
		"name":    created.Name,
		"api_key": created.APIKey,
	})
}

func (h *DIDHandler) TestNotification(c *fiber.Ctx) error {
	if err := h.engine.TestNotification(c.Context()); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "test notification sent",
	})
}

func parseSingleDIDRequest(c *fiber.Ctx) (singleDIDRequest, error) {
	var req singleDIDRequest
	if err := c.BodyParser(&req); err != nil {
		return singleDIDRequest{}, fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}

	req.GroupID = strings.TrimSpace(req.GroupID)
	req.DID = strings.TrimSpace(req.DID)
	if req.GroupID == "" {
		return singleDIDRequest{}, fmt.Errorf("%w: groupid is required", domain.ErrValidation)
	}
	if req.DID == "" {
		return singleDIDRequest{}, fmt.Errorf("%w: did is required", domain.ErrValidation)
	}

	return req, nil
}

func toBatchItems(items []didItemRequest) []batch.DIDItem {
	converted := make([]batch.DIDItem, 0, len(items))
	for _, item := range items {
		converted = append(converted, batch.DIDItem{
			DID:     strings.TrimSpace(item.DID),
			Country: strings.TrimSpace(item.Country),
		})
	}
	return converted
}

func toReportResponse(report batch.Report, includePartial bool) batchReportResponse {
	resp := batchReportResponse{
		Message:        report.Message,
		TotalProcessed: report.Total,
		SuccessCount:   report.SuccessCount,
		FailedCount:    report.FailedCount,
	}
	if includePartial {
		partial := report.PartialSuccessCount
		resp.PartialSuccessCount = &partial
	}

	if report.Results != nil {
		resp.Results = make([]batchItemResponse, 0, len(report.Results))
		for _, outcome := range report.Results {
			resp.Results = append(resp.Results, batchItemResponse{
				ID:      outcome.ID,
				Status:  outcome.Status.String(),
				Detail:  outcome.Detail,
				DID:     outcome.MSISDN,
				Country: outcome.Country.String(),
			})
		}
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	var gatewayErr *vendor.GatewayError
	if errors.As(err, &gatewayErr) {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return err
}
