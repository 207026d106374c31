package usecase

import (
	"regexp"
	"sync"
	"testing"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
)

var usernameClass = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,20}$`)

func TestGuestNameGenerator_Generate(t *testing.T) {
	g := NewGuestNameGenerator()

	name := g.Generate(nil)
	if name == "" {
		t.Fatal("Expected guest name to be non-empty")
	}
	if !usernameClass.MatchString(name) {
		t.Errorf("Guest name %q violates username rules", name)
	}
	if got := domain.NormalizeUsername(HTMLFilter{}, name); got != name {
		t.Errorf("Guest name changes under normalization: %q -> %q", name, got)
	}
}

func TestGuestNameGenerator_AvoidsTaken(t *testing.T) {
	g := NewGuestNameGenerator()
	seen := make(map[string]bool)

	for i := 0; i < 200; i++ {
		name := g.Generate(func(n string) bool { return seen[n] })
		if seen[name] {
			t.Fatalf("Generated duplicate name %q", name)
		}
		seen[name] = true
	}
}

func TestGuestNameGenerator_FallbackWhenEverythingTaken(t *testing.T) {
	g := NewGuestNameGenerator()

	name := g.Generate(func(n string) bool {
		return n[:5] != "Guest"
	})
	if !regexp.MustCompile(`^Guest\d{6}$`).MatchString(name) {
		t.Errorf("Expected numeric fallback, got %q", name)
	}
}

func TestGuestNameGenerator_Concurrency(t *testing.T) {
	g := NewGuestNameGenerator()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Generate(nil)
		}()
	}
	wg.Wait()
}
