package usecase

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
)

// Nouns for guest name generation
var nouns = []string{
	// Animals
	"Otter", "Badger", "Heron", "Lynx", "Marten", "Gecko", "Walrus", "Ferret",
	"Falcon", "Beaver", "Koala", "Panda", "Moose", "Raven", "Bison", "Newt",
	"Puffin", "Tapir", "Wombat", "Yak", "Ibex", "Dingo", "Okapi", "Quokka",

	// Household Items
	"Kettle", "Teapot", "Ladle", "Toaster", "Pillow", "Broom", "Bucket", "Lamp",
	"Spoon", "Whisk", "Sponge", "Candle", "Mug", "Blender", "Sofa", "Rug",

	// Food
	"Noodle", "Waffle", "Pretzel", "Muffin", "Dumpling", "Biscuit", "Pickle", "Bagel",
	"Taco", "Crumpet", "Scone", "Nacho", "Tofu", "Mochi", "Churro", "Pancake",
}

// Adjectives for guest name generation
var adjectives = []string{
	// Moods
	"Sleepy", "Grumpy", "Jolly", "Giddy", "Sneaky", "Brave", "Calm", "Witty",
	"Zesty", "Quiet", "Bold", "Lucky", "Chill", "Eager", "Fuzzy", "Merry",

	// Movements
	"Dashing", "Wobbly", "Bouncy", "Swift", "Zippy", "Rolling", "Drifting", "Spinning",

	// Looks
	"Shiny", "Spotty", "Stripy", "Tiny", "Mighty", "Fluffy", "Golden", "Dusty",
}

// GuestNameGenerator produces fallback usernames for users whose chosen
// name sanitizes to nothing
type GuestNameGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGuestNameGenerator creates a new GuestNameGenerator
func NewGuestNameGenerator() *GuestNameGenerator {
	return &GuestNameGenerator{
		rng: rand.New(rand.NewSource(rand.Int63())),
	}
}

// Generate returns a CamelCase adjective+noun+digits name that fits the
// username rules and for which taken returns false
func (g *GuestNameGenerator) Generate(taken func(string) bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var name string
	maxAttempts := 100

	for i := 0; i < maxAttempts; i++ {
		adj := adjectives[g.rng.Intn(len(adjectives))]
		noun := nouns[g.rng.Intn(len(nouns))]
		name = fmt.Sprintf("%s%s%02d", adj, noun, g.rng.Intn(100))

		if len(name) > domain.MaxUsernameLength {
			continue
		}
		if taken == nil || !taken(name) {
			return name
		}
	}

	// Fall back to a wide numeric suffix
	for {
		name = fmt.Sprintf("Guest%06d", g.rng.Intn(1000000))
		if taken == nil || !taken(name) {
			return name
		}
	}
}
