package models

// SystemConfigBaseURL overrides the base URL used to build webhook URLs.
const SystemConfigBaseURL = "baseUrl"

// SystemConfig is a keyed runtime setting.
type SystemConfig struct {
	Key   string `json:"key"   validate:"required"`
	Value string `json:"value"`
}

func (c *SystemConfig) GetID() string {
	return c.Key
}
