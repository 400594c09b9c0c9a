package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/didware/did-engine/internal/domain"
	"github.com/didware/did-engine/internal/vault"
)

type SettingsAdmin interface {
	All(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, key string, value string) error
}

type CredentialAdmin interface {
	List(ctx context.Context) ([]vault.CredentialSummary, error)
	Save(ctx context.Context, params vault.SaveParams) error
	Delete(ctx context.Context, name string) error
	Rekey(ctx context.Context, newMasterKey string) (int, error)
}

// AdminHandler exposes the operator surface: runtime settings and the
// credential vault. Secrets never appear in responses, only api-key hints.
type AdminHandler struct {
	settings    SettingsAdmin
	credentials CredentialAdmin
}

func NewAdminHandler(settings SettingsAdmin, credentials CredentialAdmin) (*AdminHandler, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential vault is required")
	}
	return &AdminHandler{settings: settings, credentials: credentials}, nil
}

func RegisterAdminRoutes(router fiber.Router, settings SettingsAdmin, credentials CredentialAdmin) error {
	h, err := NewAdminHandler(settings, credentials)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/settings", h.ListSettings)
	v1.Put("/settings/:key", h.SaveSetting)
	v1.Get("/credentials", h.ListCredentials)
	v1.Post("/credentials", h.SaveCredential)
	v1.Delete("/credentials/:name", h.DeleteCredential)
	v1.Post("/vault/rekey", h.Rekey)

	return nil
}

type saveSettingRequest struct {
	Value string `json:"value"`
}

type saveCredentialRequest struct {
	Name               string `json:"name"`
	APIKey             string `json:"api_key"`
	APISecret          string `json:"api_secret,omitempty"`
	VoiceCallbackType  string `json:"voice_callback_type,omitempty"`
	VoiceCallbackValue string `json:"voice_callback_value,omitempty"`
}

type credentialResponse struct {
	Name               string `json:"name"`
	APIKeyHint         string `json:"api_key_hint"`
	VoiceCallbackType  string `json:"voice_callback_type,omitempty"`
	VoiceCallbackValue string `json:"voice_callback_value,omitempty"`
}

type rekeyRequest struct {
	NewMasterKey string `json:"new_master_key"`
}

func (h *AdminHandler) ListSettings(c *fiber.Ctx) error {
	values, err := h.settings.All(c.Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"settings": values})
}

func (h *AdminHandler) SaveSetting(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))

	var req saveSettingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.settings.Save(c.Context(), key, req.Value); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "setting updated",
		"key":     key,
	})
}

func (h *AdminHandler) ListCredentials(c *fiber.Ctx) error {
	summaries, err := h.credentials.List(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]credentialResponse, 0, len(summaries))
	for _, summary := range summaries {
		responses = append(responses, credentialResponse{
			Name:               summary.Name,
			APIKeyHint:         summary.APIKeyHint,
			VoiceCallbackType:  summary.DefaultVoiceCallbackType,
			VoiceCallbackValue: summary.DefaultVoiceCallbackValue,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"credentials": responses})
}

func (h *AdminHandler) SaveCredential(c *fiber.Ctx) error {
	var req saveCredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	err := h.credentials.Save(c.Context(), vault.SaveParams{
		Name:               req.Name,
		APIKey:             req.APIKey,
		APISecret:          req.APISecret,
		VoiceCallbackType:  req.VoiceCallbackType,
		VoiceCallbackValue: req.VoiceCallbackValue,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "credential saved",
		"name":    req.Name,
	})
}

func (h *AdminHandler) DeleteCredential(c *fiber.Ctx) error {
	name := strings.TrimSpace(c.Params("name"))
	if err := h.credentials.Delete(c.Context(), name); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "credential deleted",
		"name":    name,
	})
}

func (h *AdminHandler) Rekey(c *fiber.Ctx) error {
	var req rekeyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.NewMasterKey) == "" {
		return toHTTPError(fmt.Errorf("%w: new_master_key is required", domain.ErrValidation))
	}

	count, err := h.credentials.Rekey(c.Context(), req.NewMasterKey)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":              "vault re-keyed",
		"credentials_re_keyed": count,
	})
}
