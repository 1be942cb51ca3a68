package agent

import (
	"strings"

	"github.com/smilemakc/workflow-core/internal/domain"
)

// complexityKeywords are words whose presence in a task's instructions
// suggests the weak model should not attempt a direct answer (§4.6
// failure policy's deterministic heuristic).
var complexityKeywords = []string{
	"analyze", "analyse", "architecture", "compare", "design",
	"evaluate", "investigate", "optimi", "strategy", "synthesize",
	"tradeoff", "trade-off",
}

// shortTaskThreshold is the instruction-length cutoff below which a
// task is considered "short" for the heuristic below.
const shortTaskThreshold = 200

// heuristicRound0 is the fallback §4.6 names for when the weak model's
// round-0 structured call fails outright: a short, low-complexity task
// is submitted directly; anything else opens a conversation seeded
// with a fixed clarification question.
func heuristicRound0(task *domain.TaskInstance) round0Decision {
	instructions := task.Instructions
	complexity := keywordComplexity(instructions)

	if len(instructions) < shortTaskThreshold && complexity == 0 {
		return round0Decision{
			NeedConversation: false,
			Content:          instructions,
			Confidence:       0.4,
			Reasoning:        "heuristic fallback: short, low-complexity task submitted directly",
		}
	}

	return round0Decision{
		NeedConversation: true,
		Content: "Before I answer, could you clarify the scope, the expected output format, " +
			"and any constraints I should account for?",
		Confidence: 0.3,
		Reasoning:  "heuristic fallback: task judged complex enough to warrant expert input",
	}
}

func keywordComplexity(s string) int {
	lower := strings.ToLower(s)
	count := 0
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}
