package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestExprEvaluator tests the ExprEvaluator implementation.
func TestExprEvaluator(t *testing.T) {
	evaluator := NewExprEvaluator()

	tests := []struct {
		name       string
		condition  string
		data       map[string]interface{}
		wantResult bool
		wantErr    bool
	}{
		{
			name:       "true condition",
			condition:  `decision == "approve"`,
			data:       map[string]interface{}{"decision": "approve"},
			wantResult: true,
		},
		{
			name:       "false condition",
			condition:  `decision == "approve"`,
			data:       map[string]interface{}{"decision": "reject"},
			wantResult: false,
		},
		{
			name:       "numeric comparison",
			condition:  "amount > 1000",
			data:       map[string]interface{}{"amount": 2500},
			wantResult: true,
		},
		{
			name:       "undefined variable evaluates false",
			condition:  `decision == "approve"`,
			data:       map[string]interface{}{},
			wantResult: false,
		},
		{
			name:       "nil data",
			condition:  "approved == true",
			data:       nil,
			wantResult: false,
		},
		{
			name:      "non-boolean result",
			condition: "amount + 5",
			data:      map[string]interface{}{"amount": 1},
			wantErr:   true,
		},
		{
			name:      "syntax error",
			condition: "decision ==",
			data:      map[string]interface{}{},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(tt.condition, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantResult, got)
		})
	}
}

// TestExprEvaluatorCache verifies repeated evaluation reuses the compiled program.
func TestExprEvaluatorCache(t *testing.T) {
	evaluator := NewExprEvaluator()

	_, err := evaluator.Evaluate("x > 1", map[string]interface{}{"x": 2})
	assert.NoError(t, err)

	evaluator.mu.RLock()
	_, cached := evaluator.cache["x > 1"]
	evaluator.mu.RUnlock()
	assert.True(t, cached)
}

// TestExprEvaluatorConcurrency hammers one evaluator from many goroutines.
func TestExprEvaluatorConcurrency(t *testing.T) {
	evaluator := NewExprEvaluator()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := evaluator.Evaluate("x >= 0", map[string]interface{}{"x": n})
			assert.NoError(t, err)
			assert.True(t, got)
		}(i)
	}
	wg.Wait()
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check(`decision == "approve"`))
	assert.NoError(t, Check("amount > 100 && approved"))
	assert.Error(t, Check(""))
	assert.Error(t, Check("decision =="))
}
