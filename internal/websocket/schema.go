package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart        Action = "start"
	ActionBeginSection Action = "begin_section"
	ActionAnswer       Action = "answer"
	ActionNavigate     Action = "navigate"
	ActionAdvance      Action = "advance"
	ActionSubmit       Action = "submit"
	ActionIntegrity    Action = "integrity"
	ActionFrame        Action = "frame"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// StartRequest is sent once the student confirms the instructions screen.
// Fullscreen must already be engaged and at least one webcam frame must
// already have been sent.
type StartRequest struct {
	Action     Action `json:"action"`
	Fullscreen bool   `json:"fullscreen"`
}

// BeginSectionRequest acknowledges a section intro screen.
type BeginSectionRequest struct {
	Action Action `json:"action"`
}

// AnswerRequest records a single answer.
type AnswerRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

// NavigateRequest moves the question cursor. Delta is +1 or -1.
type NavigateRequest struct {
	Action Action `json:"action"`
	Delta  int    `json:"delta"`
}

// AdvanceRequest moves past the current section from its last question.
type AdvanceRequest struct {
	Action Action `json:"action"`
}

// SubmitRequest finishes the exam. Force confirms submitting with
// unanswered questions.
type SubmitRequest struct {
	Action Action `json:"action"`
	Force  bool   `json:"force"`
}

// IntegrityKind enumerates browser-reported integrity events.
type IntegrityKind string

const (
	IntegrityFullscreenExit IntegrityKind = "fullscreen_exit"
	IntegrityTabHidden      IntegrityKind = "tab_hidden"
	IntegrityClipboard      IntegrityKind = "clipboard"
)

// IntegrityRequest reports a browser-side integrity event.
type IntegrityRequest struct {
	Action Action        `json:"action"`
	Kind   IntegrityKind `json:"kind"`
}

// FrameRequest carries one base64-encoded webcam frame with the face count
// annotated by the client-side detection model.
type FrameRequest struct {
	Action Action `json:"action"`
	Data   string `json:"data"`
	Faces  int    `json:"faces"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventTick      Event = "tick"
	EventLowTime   Event = "low_time"
	EventWarning   Event = "warning"
	EventNotice    Event = "notice"
	EventSubmitted Event = "submitted"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// StateEvent announces a state machine transition.
type StateEvent struct {
	Event         Event  `json:"event"`
	State         string `json:"state"`
	SectionIndex  int    `json:"section_index"`
	SectionName   string `json:"section_name,omitempty"`
	QuestionIndex int    `json:"question_index"`
	Display       string `json:"display,omitempty"`
}

// TickEvent carries the countdowns, once per second while answering.
type TickEvent struct {
	Event            Event  `json:"event"`
	ExamRemaining    int    `json:"exam_remaining"`
	SectionRemaining int    `json:"section_remaining,omitempty"`
	Display          string `json:"display"`
}

// LowTimeEvent fires once when five minutes remain overall.
type LowTimeEvent struct {
	Event   Event  `json:"event"`
	Display string `json:"display"`
}

// WarningEvent announces a recorded integrity warning.
type WarningEvent struct {
	Event       Event   `json:"event"`
	Type        string  `json:"type"`
	Count       int     `json:"count"`
	SnapshotURL *string `json:"snapshot_url,omitempty"`
}

// NoticeEvent is a non-counting advisory message.
type NoticeEvent struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

// SubmittedEvent carries the final result after the submission pipeline
// completes.
type SubmittedEvent struct {
	Event           Event  `json:"event"`
	Trigger         string `json:"trigger,omitempty"`
	Score           int    `json:"score"`
	MaxScore        int    `json:"max_score"`
	Percentage      int    `json:"percentage"`
	NeedsEvaluation bool   `json:"needs_evaluation"`
}

// ErrorResponse reports a rejected action or a failed pipeline stage.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

// PongResponse answers a ping.
type PongResponse struct {
	Event Event `json:"event"`
}
