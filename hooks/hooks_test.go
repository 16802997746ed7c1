package hooks

import (
	"errors"
	"testing"
)

type counting struct {
	Nop
	conflicts, steps int
}

func (c *counting) CASConflict(string, int)                { c.conflicts++ }
func (c *counting) StepFailed(string, string, bool, error) { c.steps++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &counting{}, &counting{}
	m := Multi{a, b}

	m.CASConflict("k", 1)
	m.StepFailed("save", "index", false, errors.New("x"))
	m.CacheError("get", "k", errors.New("x"))

	for _, c := range []*counting{a, b} {
		if c.conflicts != 1 || c.steps != 1 {
			t.Fatalf("got conflicts=%d steps=%d want 1,1", c.conflicts, c.steps)
		}
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Fatal("nil hooks should become Nop")
	}
	c := &counting{}
	if OrNop(c) != Hooks(c) {
		t.Fatal("non-nil hooks should pass through")
	}
}
