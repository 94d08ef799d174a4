package session

import (
	"fmt"
	"math/rand/v2"
)

var adjectives = []string{
	"Happy", "Lucky", "Swift", "Bright", "Cool", "Smart", "Brave", "Quick",
	"Calm", "Bold", "Wise", "Silent", "Sharp", "Gentle", "Noble", "Wild",
}

var nouns = []string{
	"Panda", "Tiger", "Eagle", "Falcon", "Wolf", "Bear", "Fox", "Hawk",
	"Lion", "Otter", "Raven", "Lynx", "Deer", "Owl", "Cobra", "Shark",
}

// generateRandomUsername returns a name that passes username validation,
// e.g. "SwiftOtter4821".
func generateRandomUsername() string {
	adj := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, rand.IntN(9999))
}
