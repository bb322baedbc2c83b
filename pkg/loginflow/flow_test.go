package loginflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
)

type mockStep struct {
	name    string
	order   int
	skip    bool
	result  *StepResult
	err     error
	visited *[]string
}

func (s *mockStep) Name() string { return s.name }
func (s *mockStep) Order() int   { return s.order }

func (s *mockStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return s.skip
}

func (s *mockStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	*s.visited = append(*s.visited, s.name)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &StepResult{Continue: true}, nil
}

func TestStepRegistry_Ordering(t *testing.T) {
	var visited []string
	registry := NewStepRegistry().
		AddStep(&mockStep{name: "third", order: 300, visited: &visited}).
		AddStep(&mockStep{name: "first", order: 100, visited: &visited}).
		AddStep(&mockStep{name: "second", order: 200, visited: &visited})

	names := []string{}
	for _, step := range registry.GetOrderedSteps() {
		names = append(names, step.Name())
	}
	assert.Equal(t, []string{"first", "second", "third"}, names)
}

func TestFlowExecutor(t *testing.T) {
	t.Run("skipped steps do not run", func(t *testing.T) {
		var visited []string
		executor := NewFlowBuilder().
			AddStep(&mockStep{name: "a", order: 1, visited: &visited}).
			AddStep(&mockStep{name: "b", order: 2, skip: true, visited: &visited}).
			AddStep(&mockStep{name: "c", order: 3, visited: &visited}).
			Build(&ServiceDependencies{})

		result, _ := executor.Execute(context.Background(), Request{})
		assert.Nil(t, result.ErrorResponse)
		assert.Equal(t, []string{"a", "c"}, visited)
	})

	t.Run("step error stops the flow", func(t *testing.T) {
		var visited []string
		executor := NewFlowBuilder().
			AddStep(&mockStep{name: "a", order: 1, visited: &visited,
				result: &StepResult{Error: newError(apperrors.ErrCode2FAInvalid, MsgInvalidAuthenticatorCode)}}).
			AddStep(&mockStep{name: "b", order: 2, visited: &visited}).
			Build(&ServiceDependencies{})

		result, _ := executor.Execute(context.Background(), Request{})
		require.NotNil(t, result.ErrorResponse)
		assert.Equal(t, MsgInvalidAuthenticatorCode, result.ErrorResponse.Message)
		assert.Equal(t, []string{"a"}, visited)
	})

	t.Run("internal error is generalized", func(t *testing.T) {
		var visited []string
		cause := errors.New("db down")
		executor := NewFlowBuilder().
			AddStep(&mockStep{name: "a", order: 1, err: cause, visited: &visited}).
			Build(&ServiceDependencies{})

		result, _ := executor.Execute(context.Background(), Request{})
		require.NotNil(t, result.ErrorResponse)
		assert.Equal(t, apperrors.ErrCodeInternal, result.ErrorResponse.Code)
		assert.Equal(t, "Something went wrong", result.ErrorResponse.Message)
		assert.ErrorIs(t, result.ErrorResponse, cause)
	})

	t.Run("early return", func(t *testing.T) {
		var visited []string
		executor := NewFlowBuilder().
			AddStep(&mockStep{name: "a", order: 1, visited: &visited, result: &StepResult{EarlyReturn: true}}).
			AddStep(&mockStep{name: "b", order: 2, visited: &visited}).
			Build(&ServiceDependencies{})

		_, flowContext := executor.Execute(context.Background(), Request{})
		assert.Equal(t, []string{"a"}, visited)
		assert.NotNil(t, flowContext)
	})
}

func TestCredentialLoginFlowOrder(t *testing.T) {
	executor := BuildCredentialLoginFlow(&ServiceDependencies{})
	names := []string{}
	for _, step := range executor.registry.GetOrderedSteps() {
		names = append(names, step.Name())
	}
	assert.Equal(t, []string{
		"credential_authentication",
		"backup_ticket",
		"backup_code",
		"mfa_verification",
		"session_issue",
		"success_recording",
	}, names)
}
