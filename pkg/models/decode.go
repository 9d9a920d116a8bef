package models

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes a free-form node or tool config into out, matching
// fields on their json tag names. Durations may be given as strings ("30s").
func DecodeConfig(config map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	return nil
}

// ManualConfigFromMap decodes a MANUAL trigger config.
func ManualConfigFromMap(config map[string]any) (*ManualConfig, error) {
	c := &ManualConfig{}

	if err := DecodeConfig(config, c); err != nil {
		return nil, err
	}

	return c, nil
}

// HTTPConfig is the configuration of an HTTP tool.
type HTTPConfig struct {
	URL     string            `json:"url"     validate:"required,url"`
	Method  string            `json:"method"  validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers"`
	Timeout time.Duration     `json:"timeout"`
	// Body is an optional template producing the request body. When empty
	// the node inputs are sent as JSON.
	Body string `json:"body"`
}

// HTTPConfigFromMap decodes an HTTP tool config, defaulting the method to POST.
func HTTPConfigFromMap(config map[string]any) (*HTTPConfig, error) {
	c := &HTTPConfig{Method: "POST", Timeout: 30 * time.Second}

	if err := DecodeConfig(config, c); err != nil {
		return nil, err
	}

	return c, nil
}
