package loginflow

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/tendant/portal-auth/pkg/backupcode"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/events"
	"github.com/tendant/portal-auth/pkg/login"
	"github.com/tendant/portal-auth/pkg/mfa"
	"github.com/tendant/portal-auth/pkg/session"
	"github.com/tendant/portal-auth/pkg/user"
)

// LoginFlowStep represents a single step in the login flow
type LoginFlowStep interface {
	// Name returns the unique name of this step
	Name() string

	// Order returns the execution order (lower numbers execute first)
	Order() int

	// Execute performs the step's logic
	Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error)

	// ShouldSkip determines if this step should be skipped based on current context
	ShouldSkip(ctx context.Context, flowContext *FlowContext) bool
}

// FlowContext carries state between login flow steps
type FlowContext struct {
	Request Request
	Result  *Result

	// User is set once credentials check out.
	User user.User

	// MFASatisfied is set when a backup code or ticket stands in for the second factor.
	MFASatisfied bool

	StepData map[string]interface{}
	Services *ServiceDependencies
}

// StepResult represents the result of executing a login flow step
type StepResult struct {
	// Continue indicates whether the flow should continue to the next step
	Continue bool

	// EarlyReturn indicates the flow should return immediately with the current result
	EarlyReturn bool

	// Error fails the whole attempt with a user-facing message
	Error *Error

	// Data can contain step-specific data to be stored in FlowContext.StepData
	Data map[string]interface{}
}

// ServiceDependencies contains all the services needed by login flow steps
type ServiceDependencies struct {
	Users       UserStore
	Hasher      login.PasswordHasher
	TOTP        TOTPVerifier
	BackupCodes BackupCodes
	OTP         OTPService
	Sessions    SessionIssuer
	Notifier    Notifier
	Events      events.Publisher
	Metrics     MetricsRecorder

	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *ServiceDependencies) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// StepRegistry manages and orders login flow steps
type StepRegistry struct {
	steps []LoginFlowStep
}

func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: make([]LoginFlowStep, 0),
	}
}

func (r *StepRegistry) AddStep(step LoginFlowStep) *StepRegistry {
	r.steps = append(r.steps, step)
	return r
}

// GetOrderedSteps returns steps sorted by their order
func (r *StepRegistry) GetOrderedSteps() []LoginFlowStep {
	orderedSteps := make([]LoginFlowStep, len(r.steps))
	copy(orderedSteps, r.steps)

	sort.SliceStable(orderedSteps, func(i, j int) bool {
		return orderedSteps[i].Order() < orderedSteps[j].Order()
	})

	return orderedSteps
}

// FlowExecutor orchestrates the execution of login flow steps
type FlowExecutor struct {
	registry *StepRegistry
	services *ServiceDependencies
}

func NewFlowExecutor(registry *StepRegistry, services *ServiceDependencies) *FlowExecutor {
	return &FlowExecutor{
		registry: registry,
		services: services,
	}
}

// Execute runs the steps in order. The first step error ends the attempt and
// nothing issued by later steps is returned.
func (e *FlowExecutor) Execute(ctx context.Context, request Request) (Result, *FlowContext) {
	flowContext := &FlowContext{
		Request:  request,
		Result:   &Result{},
		StepData: make(map[string]interface{}),
		Services: e.services,
	}

	for _, step := range e.registry.GetOrderedSteps() {
		if step.ShouldSkip(ctx, flowContext) {
			continue
		}

		stepResult, err := step.Execute(ctx, flowContext)
		if err != nil {
			slog.Error("Login step failed", "step", step.Name(), "err", err)
			return failed(flowContext, &Error{Code: apperrors.ErrCodeInternal, Message: apperrors.GenericMessage, Err: err}), flowContext
		}

		if stepResult.Error != nil {
			return failed(flowContext, stepResult.Error), flowContext
		}

		for key, value := range stepResult.Data {
			flowContext.StepData[key] = value
		}

		if stepResult.EarlyReturn || !stepResult.Continue {
			break
		}
	}

	return *flowContext.Result, flowContext
}

func failed(flowContext *FlowContext, e *Error) Result {
	return Result{User: flowContext.User, ErrorResponse: e}
}

// FlowBuilder provides a fluent interface for building login flows
type FlowBuilder struct {
	registry *StepRegistry
}

func NewFlowBuilder() *FlowBuilder {
	return &FlowBuilder{
		registry: NewStepRegistry(),
	}
}

func (b *FlowBuilder) AddStep(step LoginFlowStep) *FlowBuilder {
	b.registry.AddStep(step)
	return b
}

func (b *FlowBuilder) Build(services *ServiceDependencies) *FlowExecutor {
	return NewFlowExecutor(b.registry, services)
}

// BuildCredentialLoginFlow is the email and password sign-in with its second factor.
func BuildCredentialLoginFlow(services *ServiceDependencies) *FlowExecutor {
	return NewFlowBuilder().
		AddStep(NewCredentialAuthenticationStep()).
		AddStep(NewBackupTicketStep()).
		AddStep(NewBackupCodeStep()).
		AddStep(NewMFAVerificationStep()).
		AddStep(NewSessionIssueStep()).
		AddStep(NewSuccessRecordingStep()).
		Build(services)
}

const (
	OrderCredentialAuthentication = 100
	OrderBackupTicket             = 200
	OrderBackupCode               = 300
	OrderMFAVerification          = 400
	OrderSessionIssue             = 500
	OrderSuccessRecording         = 600
)

// methodBackupCode labels logins where a backup code replaced the second factor.
const methodBackupCode mfa.Method = "backup_code"

var _ BackupCodes = (*backupcode.Manager)(nil)
var _ SessionIssuer = (*session.Issuer)(nil)
