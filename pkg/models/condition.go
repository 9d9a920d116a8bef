package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Operator is a structured predicate comparison.
type Operator string

const (
	OperatorEquals             Operator = "EQUALS"
	OperatorNotEquals          Operator = "NOT_EQUALS"
	OperatorGreaterThan        Operator = "GREATER_THAN"
	OperatorLessThan           Operator = "LESS_THAN"
	OperatorGreaterThanOrEqual Operator = "GREATER_THAN_OR_EQUAL"
	OperatorLessThanOrEqual    Operator = "LESS_THAN_OR_EQUAL"
	OperatorContains           Operator = "CONTAINS"
	OperatorNotContains        Operator = "NOT_CONTAINS"
	OperatorStartsWith         Operator = "STARTS_WITH"
	OperatorEndsWith           Operator = "ENDS_WITH"
	OperatorIsEmpty            Operator = "IS_EMPTY"
	OperatorIsNotEmpty         Operator = "IS_NOT_EMPTY"
)

var ErrInvalidPredicate = errors.New("invalid predicate")

// Predicate is either structured (Field/Operator/Value) or a free-form boolean
// expression. On the wire it is an object or a plain string respectively.
type Predicate struct {
	Field      string   `json:"field,omitempty"`
	Operator   Operator `json:"operator,omitempty"`
	Value      any      `json:"value,omitempty"`
	Expression string   `json:"-"`
}

// IsExpression reports whether the predicate is a free-form expression.
func (p Predicate) IsExpression() bool {
	return p.Expression != ""
}

func (p Predicate) MarshalJSON() ([]byte, error) {
	if p.IsExpression() {
		return json.Marshal(p.Expression)
	}

	type structured Predicate

	return json.Marshal(structured(p))
}

func (p *Predicate) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ErrInvalidPredicate
	}

	if trimmed[0] == '"' {
		var expression string
		if err := json.Unmarshal(trimmed, &expression); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPredicate, err)
		}

		*p = Predicate{Expression: expression}

		return nil
	}

	type structured Predicate

	var s structured
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPredicate, err)
	}

	*p = Predicate(s)

	return nil
}

// Condition is one branch of a condition tool.
type Condition struct {
	ID          string    `json:"id"          validate:"required"`
	Name        string    `json:"name"`
	Predicate   Predicate `json:"predicate"`
	LinkedNodes []string  `json:"linkedNodes"`
}

// ConditionTool owns an ordered list of conditions; the first satisfied one wins.
type ConditionTool struct {
	ID          string      `json:"id"                    validate:"required"`
	Name        string      `json:"name"                  validate:"required"`
	Description string      `json:"description,omitempty"`
	Conditions  []Condition `json:"conditions"            validate:"dive"`
}

func (c *ConditionTool) GetID() string {
	return c.ID
}
