package session

import "secretaria/internal/models"

// Renderer receives the UI-facing effects of a session. Messages are
// snapshots keyed by LocalID; the assistant message is first reported by
// AssistantText or AssistantFile.
type Renderer interface {
	UserMessage(msg models.Message)
	AssistantText(msg models.Message)
	AssistantFile(msg models.Message, file models.FileRef)
	MessageBound(msg models.Message)
	// Completed reports the settled assistant message. committed is false
	// when the reply was empty and has been dropped from the transcript.
	Completed(msg models.Message, committed bool)
	Failed(msg models.Message, err *Error)
}

// RendererFuncs adapts optional callbacks to Renderer. Nil fields are no-ops.
type RendererFuncs struct {
	OnUserMessage   func(models.Message)
	OnAssistantText func(models.Message)
	OnAssistantFile func(models.Message, models.FileRef)
	OnMessageBound  func(models.Message)
	OnCompleted     func(models.Message, bool)
	OnFailed        func(models.Message, *Error)
}

func (r RendererFuncs) UserMessage(msg models.Message) {
	if r.OnUserMessage != nil {
		r.OnUserMessage(msg)
	}
}

func (r RendererFuncs) AssistantText(msg models.Message) {
	if r.OnAssistantText != nil {
		r.OnAssistantText(msg)
	}
}

func (r RendererFuncs) AssistantFile(msg models.Message, file models.FileRef) {
	if r.OnAssistantFile != nil {
		r.OnAssistantFile(msg, file)
	}
}

func (r RendererFuncs) MessageBound(msg models.Message) {
	if r.OnMessageBound != nil {
		r.OnMessageBound(msg)
	}
}

func (r RendererFuncs) Completed(msg models.Message, committed bool) {
	if r.OnCompleted != nil {
		r.OnCompleted(msg, committed)
	}
}

func (r RendererFuncs) Failed(msg models.Message, err *Error) {
	if r.OnFailed != nil {
		r.OnFailed(msg, err)
	}
}
