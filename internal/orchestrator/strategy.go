package orchestrator

import "strings"

// strategy holds the subtask decisions for one turn.
type strategy struct {
	retrieve bool
	tools    bool
	flow     bool
}

var retrieveHints = []string{"search", "find", "what is", "what's", "look up", "lookup", "according to"}

var toolHints = []string{"execute", "call the", "run the", "use the tool", "invoke"}

// selectStrategy combines explicit command flags with text heuristics.
// An explicit flag wins; otherwise hint words in the user text decide.
// Flow runs only when the thread carries a snapshot.
func selectStrategy(cmd *Command, content, flowSnapshotID string) strategy {
	lower := strings.ToLower(content)

	s := strategy{flow: flowSnapshotID != ""}

	if cmd.EnableRetrieval != nil {
		s.retrieve = *cmd.EnableRetrieval
	} else {
		s.retrieve = containsAny(lower, retrieveHints)
	}

	if cmd.EnableTools != nil {
		s.tools = *cmd.EnableTools
	} else {
		s.tools = containsAny(lower, toolHints) || len(cmd.ToolInvocations) > 0
	}
	return s
}

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}
