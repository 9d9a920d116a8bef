package models

import "time"

// Agent is an external reasoning endpoint invoked by AGENT nodes.
type Agent struct {
	ID           string    `json:"id"                    validate:"required"`
	Name         string    `json:"name"                  validate:"required"`
	Description  string    `json:"description,omitempty"`
	Instructions string    `json:"instructions"`
	Endpoint     string    `json:"endpoint"              validate:"omitempty,url"`
	ToolIDs      []string  `json:"toolIds,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (a *Agent) GetID() string {
	return a.ID
}
