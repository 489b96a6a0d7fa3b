//go:build unit

package errorhandler_test

import (
	"context"
	"testing"

	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/stretchr/testify/require"
)

func TestErrorPhase_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		phase    errorhandler.ErrorPhase
		expected string
	}{
		{errorhandler.PhaseUnknown, "unknown"},
		{errorhandler.PhaseConsume, "consume"},
		{errorhandler.PhaseSerde, "serde"},
		{errorhandler.PhaseProcessing, "processing"},
		{errorhandler.PhaseProduction, "production"},
		{errorhandler.ErrorPhase(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(
			tt.expected, func(t *testing.T) {
				t.Parallel()
				require.Equal(t, tt.expected, tt.phase.String())
			},
		)
	}
}

// actionHandler returns a handler that always returns the given action.
func actionHandler(a errorhandler.Action) errorhandler.Handler {
	return errorhandler.HandlerFunc(
		func(_ context.Context, _ errorhandler.ErrorContext) errorhandler.Action {
			return a
		},
	)
}

func ecWithPhase(phase errorhandler.ErrorPhase) errorhandler.ErrorContext {
	return errorhandler.NewErrorContext(kafka.ConsumerRecord{}, nil).WithPhase(phase)
}

func TestPhaseRouter_RoutesByPhase(t *testing.T) {
	t.Parallel()
	router := errorhandler.NewPhaseRouter(
		actionHandler(errorhandler.ActionFail{}),
		errorhandler.WithConsumeHandler(actionHandler(errorhandler.ActionContinue{})),
		errorhandler.WithSerdeHandler(actionHandler(errorhandler.ActionContinue{})),
		errorhandler.WithProcessingHandler(actionHandler(errorhandler.ActionRetry{})),
	)

	tests := []struct {
		phase    errorhandler.ErrorPhase
		expected errorhandler.Action
	}{
		{errorhandler.PhaseConsume, errorhandler.ActionContinue{}},
		{errorhandler.PhaseSerde, errorhandler.ActionContinue{}},
		{errorhandler.PhaseProcessing, errorhandler.ActionRetry{}},
		{errorhandler.PhaseProduction, errorhandler.ActionFail{}},
		{errorhandler.PhaseUnknown, errorhandler.ActionFail{}},
	}

	for _, tt := range tests {
		t.Run(
			tt.phase.String(), func(t *testing.T) {
				t.Parallel()
				action := router.Handle(context.Background(), ecWithPhase(tt.phase))
				require.IsType(t, tt.expected, action)
			},
		)
	}
}

func TestPhaseRouter_ProductionHandler(t *testing.T) {
	t.Parallel()
	router := errorhandler.NewPhaseRouter(
		actionHandler(errorhandler.ActionFail{}),
		errorhandler.WithProductionHandler(actionHandler(errorhandler.ActionContinue{})),
	)

	action := router.Handle(context.Background(), ecWithPhase(errorhandler.PhaseProduction))
	require.IsType(t, errorhandler.ActionContinue{}, action)
}

func TestPhaseRouter_NilDefaultUsesSilentFail(t *testing.T) {
	t.Parallel()
	router := errorhandler.NewPhaseRouter(nil)

	action := router.Handle(context.Background(), ecWithPhase(errorhandler.PhaseSerde))
	require.IsType(t, errorhandler.ActionFail{}, action)
}
