package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator decides onComplete branch conditions against a task's output
// data. Implementations must be safe for concurrent use.
type Evaluator interface {
	Evaluate(condition string, data map[string]interface{}) (bool, error)
}

// ExprEvaluator evaluates conditions with expr-lang/expr, caching compiled
// programs keyed by the condition text.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator returns an ExprEvaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate compiles (or reuses) the condition and runs it against data.
// The condition must yield a boolean.
func (e *ExprEvaluator) Evaluate(condition string, data map[string]interface{}) (bool, error) {
	if data == nil {
		data = map[string]interface{}{}
	}

	e.mu.RLock()
	program, ok := e.cache[condition]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[condition]; !ok {
			var err error
			program, err = expr.Compile(condition, expr.AllowUndefinedVariables())
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[condition] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, data)
	if err != nil {
		return false, err
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean, got %T", condition, result)
	}
	return b, nil
}

// Check verifies at load time that a condition compiles. Undefined variables
// are allowed since task output is only known at runtime.
func Check(condition string) error {
	if condition == "" {
		return fmt.Errorf("condition is empty")
	}
	_, err := expr.Compile(condition, expr.AllowUndefinedVariables())
	return err
}
