package chat

// UnresolvedToolUses scans an ordered message history and returns the ids of
// tool_use blocks that are not yet resolved by exactly one tool_result block
// with the same id. An empty return means the turn can be considered closed.
func UnresolvedToolUses(msgs []Message) []string {
	resolved := map[string]int{}
	for i := range msgs {
		for _, r := range ToolResults(&msgs[i]) {
			resolved[r.ID]++
		}
	}
	var pending []string
	for i := range msgs {
		for _, u := range ToolUses(&msgs[i]) {
			if resolved[u.ID] != 1 {
				pending = append(pending, u.ID)
			}
		}
	}
	return pending
}
