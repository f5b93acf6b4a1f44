package server

import (
	"testing"
	"time"
)

func TestCooldown(t *testing.T) {
	clock := time.Now()
	c := NewCooldown(time.Minute)
	c.now = func() time.Time { return clock }

	if _, ok := c.Allow("alice"); !ok {
		t.Fatal("first attempt refused")
	}
	wait, ok := c.Allow("alice")
	if ok {
		t.Fatal("second attempt inside the window allowed")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %s", wait)
	}

	// other users have their own window
	if _, ok := c.Allow("bob"); !ok {
		t.Error("other user refused")
	}

	// the window expires
	clock = clock.Add(time.Minute)
	if _, ok := c.Allow("alice"); !ok {
		t.Error("attempt after the window refused")
	}
}
