package xp

// Rank is a level-indexed title. The highest qualifying rank wins.
type Rank struct {
	MinLevel int    `json:"minLevel"`
	Title    string `json:"title"`
	Color    string `json:"color"`
}

// ranks must stay sorted by MinLevel ascending.
var ranks = []Rank{
	{MinLevel: 1, Title: "Novice", Color: "#9ca3af"},
	{MinLevel: 3, Title: "Apprentice", Color: "#22c55e"},
	{MinLevel: 5, Title: "Builder", Color: "#3b82f6"},
	{MinLevel: 8, Title: "Hacker", Color: "#a855f7"},
	{MinLevel: 12, Title: "Architect", Color: "#f59e0b"},
	{MinLevel: 18, Title: "Legend", Color: "#ef4444"},
}

// RankForLevel returns the highest rank whose MinLevel is at most level.
func RankForLevel(level int) Rank {
	out := ranks[0]
	for _, r := range ranks {
		if level >= r.MinLevel {
			out = r
		}
	}
	return out
}
