package core

import "github.com/vovakirdan/agora-server/internal/store"

// AggregateReactions groups raw reactions by emoji.
// Groups keep the order in which each emoji first appears; a user is counted once per emoji.
// The result is never nil.
func AggregateReactions(raw []store.Reaction) []store.ReactionSummary {
	summaries := make([]store.ReactionSummary, 0)
	index := make(map[string]int)
	seen := make(map[string]map[store.UserID]struct{})

	for _, r := range raw {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(summaries)
			index[r.Emoji] = i
			seen[r.Emoji] = make(map[store.UserID]struct{})
			summaries = append(summaries, store.ReactionSummary{
				Emoji: r.Emoji,
				Users: make([]store.UserID, 0, 1),
			})
		}
		if _, dup := seen[r.Emoji][r.UserID]; dup {
			continue
		}
		seen[r.Emoji][r.UserID] = struct{}{}
		summaries[i].Users = append(summaries[i].Users, r.UserID)
		summaries[i].Count++
	}
	return summaries
}
