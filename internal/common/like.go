package common

import "strings"

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// ContainsPattern builds a LIKE pattern matching s anywhere, for use with ESCAPE '!'.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
