package domain

import (
	"context"
	"time"
)

// SimulatorStatus is the lifecycle status of a simulator consult session
// (§4.6).
type SimulatorStatus string

const (
	SimulatorStatusActive      SimulatorStatus = "active"
	SimulatorStatusCompleted   SimulatorStatus = "completed"
	SimulatorStatusInterrupted SimulatorStatus = "interrupted"
	SimulatorStatusFailed      SimulatorStatus = "failed"
)

// FinalDecision is the terminal outcome a simulator session records.
type FinalDecision string

const (
	FinalDecisionDirectSubmit        FinalDecision = "direct_submit"
	FinalDecisionConsultComplete     FinalDecision = "consult_complete"
	FinalDecisionWeakModelTerminated FinalDecision = "weak_model_terminated"
	FinalDecisionMaxRoundsReached    FinalDecision = "max_rounds_reached"
)

// SimulatorSession is the per-task consult-protocol state described in
// §4.6: a weak model deciding whether (and how long) to consult a bound
// strong model before a task result is produced.
type SimulatorSession struct {
	SessionID     string
	TaskID        string
	WeakModel     string
	StrongModel   string
	MaxRounds     int
	CurrentRound  int
	Status        SimulatorStatus
	FinalDecision FinalDecision
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SimulatorSpeaker distinguishes the two voices in a session's message
// log.
type SimulatorSpeaker string

const (
	SimulatorSpeakerWeak   SimulatorSpeaker = "weak"
	SimulatorSpeakerStrong SimulatorSpeaker = "strong"
)

// SimulatorMessage is one ordered entry of a session's conversation log.
type SimulatorMessage struct {
	MessageID string
	SessionID string
	Round     int
	Speaker   SimulatorSpeaker
	Content   string
	CreatedAt time.Time
}

// SimulatorExecutionType distinguishes a session that never opened a
// conversation from one that did (§4.6 terminal bookkeeping).
type SimulatorExecutionType string

const (
	SimulatorExecutionDirectSubmit       SimulatorExecutionType = "direct_submit"
	SimulatorExecutionConversationResult SimulatorExecutionType = "conversation_result"
)

// SimulatorExecutionResult is the terminal row §4.6 asks the simulator
// to persist alongside the session and its message log.
type SimulatorExecutionResult struct {
	ResultID          string
	SessionID         string
	ExecutionType     SimulatorExecutionType
	ResultData        map[string]interface{}
	Confidence        float64
	TotalRounds       int
	DecisionReasoning string
	CreatedAt         time.Time
}

// SimulatorRepository persists simulator sessions, their message logs,
// and their terminal execution results (§4.6).
type SimulatorRepository interface {
	CreateSession(ctx context.Context, s *SimulatorSession) (*SimulatorSession, error)
	UpdateSession(ctx context.Context, s *SimulatorSession) error
	GetSession(ctx context.Context, sessionID string) (*SimulatorSession, error)
	GetSessionByTask(ctx context.Context, taskID string) (*SimulatorSession, error)

	AppendMessage(ctx context.Context, m *SimulatorMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]*SimulatorMessage, error)

	CreateExecutionResult(ctx context.Context, r *SimulatorExecutionResult) (*SimulatorExecutionResult, error)
}
