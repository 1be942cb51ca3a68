package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/workflow-core/internal/domain"
)

var round0Schema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"need_conversation": map[string]interface{}{
			"type":        "boolean",
			"description": "whether the strong model must be consulted before answering",
		},
		"content": map[string]interface{}{
			"type":        "string",
			"description": "the direct answer, or the opening message to the strong model",
		},
		"confidence": map[string]interface{}{
			"type":        "number",
			"description": "confidence in this decision, 0 to 1",
		},
		"reasoning": map[string]interface{}{
			"type": "string",
		},
	},
	"required": []string{"need_conversation", "content", "confidence", "reasoning"},
}

var roundSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"decision": map[string]interface{}{
			"type": "string",
			"enum": []string{"submit_result", "continue_conversation", "terminate"},
		},
		"result": map[string]interface{}{
			"type":        "string",
			"description": "final answer, present only when decision is submit_result",
		},
		"questions": map[string]interface{}{
			"type":        "string",
			"description": "follow-up questions for the strong model, present only when decision is continue_conversation",
		},
		"confidence": map[string]interface{}{
			"type": "number",
		},
		"reasoning": map[string]interface{}{
			"type": "string",
		},
	},
	"required": []string{"decision", "confidence", "reasoning"},
}

type round0Decision struct {
	NeedConversation bool    `json:"need_conversation"`
	Content          string  `json:"content"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
}

type roundDecision struct {
	Decision   string  `json:"decision"`
	Result     string  `json:"result"`
	Questions  string  `json:"questions"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// runSimulatorTask implements §4.6's weak/strong model consult
// protocol: a round-0 structured decision that may short-circuit to a
// direct answer, else a bounded round loop alternating a free-form
// strong-model reply with a structured weak-model decision.
func (s *Service) runSimulatorTask(ctx context.Context, task *domain.TaskInstance) error {
	weakModel, strongModel, maxRounds := s.simulatorModels(ctx, task)

	now := time.Now()
	session := &domain.SimulatorSession{
		SessionID:    newID(),
		TaskID:       task.TaskID,
		WeakModel:    weakModel,
		StrongModel:  strongModel,
		MaxRounds:    maxRounds,
		CurrentRound: 0,
		Status:       domain.SimulatorStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.sessions.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("create simulator session: %w", err)
	}

	decision, err := s.weakRound0Decision(ctx, weakModel, task)
	if err != nil {
		return fmt.Errorf("round-0 decision: %w", err)
	}

	if !decision.NeedConversation {
		session.Status = domain.SimulatorStatusCompleted
		session.FinalDecision = domain.FinalDecisionDirectSubmit
		return s.finishSimulatorSession(ctx, task, session, domain.SimulatorExecutionDirectSubmit,
			map[string]interface{}{"answer": decision.Content}, decision.Confidence, decision.Reasoning)
	}

	s.logMessage(ctx, session.SessionID, 0, domain.SimulatorSpeakerWeak, decision.Content)
	lastWeakMessage := decision.Content
	lastStrongMessage := ""

	for {
		select {
		case <-ctx.Done():
			session.Status = domain.SimulatorStatusInterrupted
			session.FinalDecision = domain.FinalDecisionWeakModelTerminated
			_ = s.sessions.UpdateSession(context.Background(), session)
			return nil
		default:
		}

		session.CurrentRound++
		session.UpdatedAt = time.Now()

		strongReply, err := s.strongModelReply(ctx, strongModel, task, lastWeakMessage)
		if err != nil {
			return fmt.Errorf("strong model reply at round %d: %w", session.CurrentRound, err)
		}
		s.logMessage(ctx, session.SessionID, session.CurrentRound, domain.SimulatorSpeakerStrong, strongReply)
		lastStrongMessage = strongReply

		rd, err := s.weakRoundDecision(ctx, weakModel, task, strongReply)
		if err != nil {
			// Structured call failed mid-conversation: fall back to
			// terminating with the best strong reply seen so far
			// rather than looping indefinitely on a broken weak model.
			session.Status = domain.SimulatorStatusCompleted
			session.FinalDecision = domain.FinalDecisionMaxRoundsReached
			return s.finishSimulatorSession(ctx, task, session, domain.SimulatorExecutionConversationResult,
				map[string]interface{}{"answer": lastStrongMessage}, 0, "weak model structured call failed, best-available strong reply used")
		}
		s.logMessage(ctx, session.SessionID, session.CurrentRound, domain.SimulatorSpeakerWeak, rd.decisionMessage())

		switch rd.Decision {
		case "submit_result":
			session.Status = domain.SimulatorStatusCompleted
			session.FinalDecision = domain.FinalDecisionConsultComplete
			return s.finishSimulatorSession(ctx, task, session, domain.SimulatorExecutionConversationResult,
				map[string]interface{}{"answer": rd.Result}, rd.Confidence, rd.Reasoning)

		case "terminate":
			session.Status = domain.SimulatorStatusCompleted
			session.FinalDecision = domain.FinalDecisionWeakModelTerminated
			return s.finishSimulatorSession(ctx, task, session, domain.SimulatorExecutionConversationResult,
				map[string]interface{}{}, rd.Confidence, rd.Reasoning)

		default: // continue_conversation
			if session.CurrentRound >= session.MaxRounds {
				session.Status = domain.SimulatorStatusCompleted
				session.FinalDecision = domain.FinalDecisionMaxRoundsReached
				return s.finishSimulatorSession(ctx, task, session, domain.SimulatorExecutionConversationResult,
					map[string]interface{}{"answer": lastStrongMessage}, rd.Confidence, "max rounds reached, best-available strong reply used")
			}
			lastWeakMessage = rd.Questions
		}
	}
}

func (rd roundDecision) decisionMessage() string {
	switch rd.Decision {
	case "submit_result":
		return rd.Result
	case "terminate":
		return "terminating: " + rd.Reasoning
	default:
		return rd.Questions
	}
}

// simulatorModels resolves weak/strong model names and the round budget
// from the processor binding, falling back to package defaults.
func (s *Service) simulatorModels(ctx context.Context, task *domain.TaskInstance) (weak, strong string, maxRounds int) {
	weak, strong, maxRounds = defaultWeakModel, defaultStrongModel, defaultMaxRounds
	p, err := s.processors.Get(ctx, task.ProcessorID)
	if err != nil || p == nil {
		return
	}
	if m, ok := p.Metadata["weak_model"].(string); ok && m != "" {
		weak = m
	}
	if m, ok := p.Metadata["strong_model"].(string); ok && m != "" {
		strong = m
	}
	switch v := p.Metadata["max_rounds"].(type) {
	case int:
		maxRounds = v
	case float64:
		maxRounds = int(v)
	}
	return
}

func (s *Service) weakRound0Decision(ctx context.Context, weakModel string, task *domain.TaskInstance) (round0Decision, error) {
	var out round0Decision
	prompt := "You are deciding whether you can answer this task directly or need to consult an expert.\n\nTask:\n" + buildAgentPrompt(task)
	err := s.retry.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		defer cancel()
		return s.client.StructuredCall(callCtx, weakModel, prompt, FunctionSpec{
			Name:        "decide",
			Description: "decide whether a conversation with the expert is needed",
			Parameters:  round0Schema,
		}, &out)
	})
	if err != nil {
		return heuristicRound0(task), nil
	}
	return out, nil
}

func (s *Service) strongModelReply(ctx context.Context, strongModel string, task *domain.TaskInstance, weakMessage string) (string, error) {
	var reply string
	err := s.retry.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		defer cancel()
		out, callErr := s.client.Complete(callCtx, strongModel,
			"You are an expert assisting a less capable assistant with the task below.\n\n"+buildAgentPrompt(task),
			weakMessage)
		if callErr != nil {
			return callErr
		}
		reply = out
		return nil
	})
	return reply, err
}

func (s *Service) weakRoundDecision(ctx context.Context, weakModel string, task *domain.TaskInstance, strongReply string) (roundDecision, error) {
	var out roundDecision
	prompt := "The expert just replied:\n" + strongReply +
		"\n\nDecide whether to submit a final result, continue the conversation with follow-up questions, or terminate."
	err := s.retry.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		defer cancel()
		return s.client.StructuredCall(callCtx, weakModel, prompt, FunctionSpec{
			Name:        "decide_round",
			Description: "decide how to proceed in the consult conversation",
			Parameters:  roundSchema,
		}, &out)
	})
	return out, err
}

func (s *Service) logMessage(ctx context.Context, sessionID string, round int, speaker domain.SimulatorSpeaker, content string) {
	if err := s.sessions.AppendMessage(ctx, &domain.SimulatorMessage{
		MessageID: newID(),
		SessionID: sessionID,
		Round:     round,
		Speaker:   speaker,
		Content:   content,
	}); err != nil {
		s.log.Error("failed to log simulator message", "session_id", sessionID, "error", err)
	}
}

// finishSimulatorSession persists the terminal session status, the
// execution result row, and completes the task itself (§4.6 terminal
// bookkeeping).
func (s *Service) finishSimulatorSession(
	ctx context.Context,
	task *domain.TaskInstance,
	session *domain.SimulatorSession,
	execType domain.SimulatorExecutionType,
	resultData map[string]interface{},
	confidence float64,
	reasoning string,
) error {
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		s.log.Error("failed to persist simulator session", "session_id", session.SessionID, "error", err)
	}
	if _, err := s.sessions.CreateExecutionResult(ctx, &domain.SimulatorExecutionResult{
		ResultID:          newID(),
		SessionID:         session.SessionID,
		ExecutionType:     execType,
		ResultData:        resultData,
		Confidence:        confidence,
		TotalRounds:       session.CurrentRound,
		DecisionReasoning: reasoning,
	}); err != nil {
		s.log.Error("failed to persist simulator execution result", "session_id", session.SessionID, "error", err)
	}
	return s.completeTask(ctx, task, resultData)
}
