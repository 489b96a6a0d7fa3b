package errorhandler

import (
	"context"
)

// Handler decides what happens to a record that failed in some phase.
type Handler interface {
	Handle(ctx context.Context, ec ErrorContext) Action
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, ec ErrorContext) Action

func (f HandlerFunc) Handle(ctx context.Context, ec ErrorContext) Action {
	return f(ctx, ec)
}

// Action is a Handler decision. Switch on Type, or type-assert for actions
// that carry data such as ActionSendToDLQ.
type Action interface {
	Type() ActionType
}

type ActionType int

const (
	ActionTypeContinue ActionType = iota
	ActionTypeRetry
	ActionTypeFail
	ActionTypeSendToDLQ
)

var actionTypeNames = map[ActionType]string{
	ActionTypeContinue:  "Continue",
	ActionTypeRetry:     "Retry",
	ActionTypeFail:      "Fail",
	ActionTypeSendToDLQ: "SendToDLQ",
}

func (a ActionType) String() string {
	if name, ok := actionTypeNames[a]; ok {
		return name
	}
	return "Unknown"
}

var (
	_ Action = ActionContinue{}
	_ Action = ActionRetry{}
	_ Action = ActionFail{}
	_ Action = ActionSendToDLQ{}
)

// ActionContinue skips the failed record.
type ActionContinue struct{}

// ActionRetry runs the failed step again for the same record.
type ActionRetry struct{}

// ActionFail stops the engine.
type ActionFail struct{}

// ActionSendToDLQ publishes the input record to a dead letter topic and then
// skips it.
type ActionSendToDLQ struct {
	topic string
}

func (ActionContinue) Type() ActionType  { return ActionTypeContinue }
func (ActionRetry) Type() ActionType     { return ActionTypeRetry }
func (ActionFail) Type() ActionType      { return ActionTypeFail }
func (ActionSendToDLQ) Type() ActionType { return ActionTypeSendToDLQ }

// SendToDLQ returns an action routing the failed record to topic.
func SendToDLQ(topic string) ActionSendToDLQ {
	return ActionSendToDLQ{topic: topic}
}

func (a ActionSendToDLQ) Topic() string {
	return a.topic
}
