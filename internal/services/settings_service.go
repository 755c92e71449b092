package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/lordvitaly/lvchat/internal/store"
	apperrors "github.com/lordvitaly/lvchat/pkg/errors"
	"github.com/lordvitaly/lvchat/pkg/validator"
)

// Settings is a user's model configuration. Unknown keys are preserved.
type Settings map[string]interface{}

var requiredSettings = []string{"model_name", "temperature", "top_p", "top_k"}

var (
	floatSettings = []string{"temperature", "top_p", "streaming_edit_interval"}
	intSettings   = []string{"top_k"}
	boolSettings  = []string{"streaming_mode", "streaming_edit_mode", "enable_message_buttons", "enable_image_generation"}
)

var settingsRules = map[string]interface{}{
	"model_name":              "required,max=128",
	"temperature":             "gte=0,lte=2",
	"top_p":                   "gte=0,lte=1",
	"top_k":                   "gte=0",
	"streaming_edit_interval": "omitempty,gte=0",
}

// DefaultSettings returns the settings served before a user saves their own.
func DefaultSettings() Settings {
	return Settings{
		"model_name":              "gemini-2.0-flash",
		"temperature":             0.85,
		"top_p":                   0.95,
		"top_k":                   1,
		"streaming_mode":          true,
		"streaming_edit_mode":     true,
		"streaming_edit_interval": 2.0,
		"enable_message_buttons":  true,
		"enable_image_generation": true,
	}
}

// SettingsService persists per-user settings.
type SettingsService struct {
	ns   *store.Namespace
	opts serviceOptions
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(ns *store.Namespace, opts ...Option) (*SettingsService, error) {
	if ns == nil {
		return nil, errors.New("settings service: namespace is required")
	}
	return &SettingsService{ns: ns, opts: buildOptions(opts)}, nil
}

// Get returns the stored settings or the defaults when none exist.
func (s *SettingsService) Get(ctx context.Context, userID string) (json.RawMessage, error) {
	ctx = ensureContext(ctx)

	rec, err := s.ns.Get(ctx, settingsKey(userID))
	switch {
	case err == nil:
		return rec.Value, nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExpired):
		data, err := json.Marshal(DefaultSettings())
		if err != nil {
			return nil, apperrors.Wrap(err, "encode default settings")
		}
		return data, nil
	default:
		return nil, translateStoreError(err, "Settings")
	}
}

// Save validates and normalises settings, stamps updated_at and user_id and
// stores them for the user.
func (s *SettingsService) Save(ctx context.Context, userID string, input Settings) (Settings, error) {
	ctx = ensureContext(ctx)
	userID = NormaliseUserID(userID)

	settings, err := NormaliseSettings(input)
	if err != nil {
		return nil, err
	}
	settings["updated_at"] = s.opts.now().Unix()
	settings["user_id"] = userID

	payload, err := json.Marshal(settings)
	if err != nil {
		return nil, apperrors.Wrap(err, "encode settings")
	}
	if _, err := s.ns.Put(ctx, settingsKey(userID), payload); err != nil {
		return nil, translateStoreError(err, "Settings")
	}
	return settings, nil
}

// NormaliseSettings checks required fields, coerces numeric and boolean fields
// and validates ranges. A required field set to null counts as missing. The
// input is not modified.
func NormaliseSettings(input Settings) (Settings, error) {
	for _, field := range requiredSettings {
		if v, ok := input[field]; !ok || v == nil {
			return nil, apperrors.NewBadRequest("Missing required field: " + field)
		}
	}

	out := make(Settings, len(input)+2)
	for k, v := range input {
		out[k] = v
	}

	for _, field := range floatSettings {
		if raw, ok := out[field]; ok {
			if raw == nil {
				return nil, invalidField(field, errors.New("null"))
			}
			v, err := cast.ToFloat64E(raw)
			if err != nil {
				return nil, invalidField(field, err)
			}
			out[field] = v
		}
	}
	for _, field := range intSettings {
		if raw, ok := out[field]; ok {
			if raw == nil {
				return nil, invalidField(field, errors.New("null"))
			}
			v, err := cast.ToIntE(raw)
			if err != nil {
				return nil, invalidField(field, err)
			}
			out[field] = v
		}
	}
	for _, field := range boolSettings {
		if raw, ok := out[field].(string); ok {
			switch strings.ToLower(strings.TrimSpace(raw)) {
			case "true", "yes", "1":
				out[field] = true
			default:
				out[field] = false
			}
		}
	}
	if name, ok := out["model_name"]; ok {
		out["model_name"] = cast.ToString(name)
	}

	if err := validator.ValidateMap(out, settingsRules); err != nil {
		return nil, apperrors.NewBadRequest("Invalid settings: " + err.Error()).WithInternal(err)
	}
	return out, nil
}

func invalidField(field string, err error) error {
	return apperrors.NewBadRequest(fmt.Sprintf("Invalid value for field %s", field)).WithInternal(err)
}

func settingsKey(userID string) string {
	return store.CompositeKey("settings", NormaliseUserID(userID))
}
