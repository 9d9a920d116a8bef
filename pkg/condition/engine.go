// Package condition evaluates the branches of a condition tool against a node's
// resolved input. Predicates are either structured comparisons or boolean
// expressions interpreted over a whitelisted grammar.
package condition

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
)

var (
	ErrUnknownOperator   = errors.New("unknown operator")
	ErrInvalidExpression = errors.New("invalid expression")
)

// Result is the outcome of evaluating an ordered list of conditions.
type Result struct {
	Satisfied     bool     `json:"satisfied"`
	ConditionID   string   `json:"conditionId,omitempty"`
	ConditionName string   `json:"conditionName,omitempty"`
	LinkedNodes   []string `json:"linkedNodes"`
}

// Outputs is the map stored as the condition node's outputs.
func (r Result) Outputs() map[string]any {
	linked := make([]any, 0, len(r.LinkedNodes))
	for _, id := range r.LinkedNodes {
		linked = append(linked, id)
	}

	out := map[string]any{
		"satisfied":   r.Satisfied,
		"linkedNodes": linked,
	}

	if r.Satisfied {
		out["conditionId"] = r.ConditionID
		out["conditionName"] = r.ConditionName
	}

	return out
}

type Engine struct {
	logger *slog.Logger

	// compiled expressions keyed by source text
	compiled sync.Map
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		logger: logger.With("module", "condition_engine"),
	}
}

// Evaluate walks conditions in order and returns the first satisfied one.
// A predicate that fails to evaluate counts as not satisfied.
func (e *Engine) Evaluate(conditions []models.Condition, input map[string]any) Result {
	if input == nil {
		input = map[string]any{}
	}

	for _, c := range conditions {
		ok, err := e.EvaluatePredicate(c.Predicate, input)
		if err != nil {
			e.logger.Debug("Predicate evaluation failed",
				"condition_id", c.ID,
				"error", err)

			continue
		}

		if ok {
			linked := make([]string, len(c.LinkedNodes))
			copy(linked, c.LinkedNodes)

			return Result{
				Satisfied:     true,
				ConditionID:   c.ID,
				ConditionName: c.Name,
				LinkedNodes:   linked,
			}
		}
	}

	return Result{Satisfied: false, LinkedNodes: []string{}}
}

// EvaluatePredicate evaluates a single predicate. Panics raised while
// comparing exotic values are converted into errors.
func (e *Engine) EvaluatePredicate(p models.Predicate, input map[string]any) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("predicate panicked: %v", r)
		}
	}()

	if p.IsExpression() {
		expr, err := e.compile(p.Expression)
		if err != nil {
			return false, err
		}

		return expr.Eval(input)
	}

	return evaluateStructured(p, input)
}

func (e *Engine) compile(source string) (*Expression, error) {
	if cached, ok := e.compiled.Load(source); ok {
		return cached.(*Expression), nil
	}

	expr, err := Compile(source)
	if err != nil {
		return nil, err
	}

	e.compiled.Store(source, expr)

	return expr, nil
}
