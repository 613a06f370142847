package session

import (
	"sync"

	"github.com/dyluth/arena/internal/game"
)

// WallChecker reports whether a pose overlaps a wall. *game.Grid
// implements it.
type WallChecker interface {
	Collides(p game.Pose) bool
}

// Controller applies input to the local tractor and broadcasts every
// accepted change through its Broadcaster.
type Controller struct {
	walls WallChecker
	bc    *Broadcaster

	mu   sync.Mutex
	pose game.Pose
}

// NewController starts a controller at pose and broadcasts it once.
func NewController(start game.Pose, walls WallChecker, bc *Broadcaster) *Controller {
	c := &Controller{walls: walls, bc: bc, pose: start}
	bc.Trigger(start)
	return c
}

// Pose returns the current local pose.
func (c *Controller) Pose() game.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose
}

// Move drives forwards or backwards one step. A move into a wall is undone
// and reported as false.
func (c *Controller) Move(forward bool) bool {
	return c.apply(func(p game.Pose) game.Pose { return p.Move(forward) })
}

// Rotate turns one step. A rotation into a wall is undone and reported as
// false.
func (c *Controller) Rotate(clockwise bool) bool {
	return c.apply(func(p game.Pose) game.Pose { return p.Rotate(clockwise) })
}

func (c *Controller) apply(step func(game.Pose) game.Pose) bool {
	c.mu.Lock()
	next := step(c.pose)
	if c.walls.Collides(next) {
		c.mu.Unlock()
		return false
	}
	c.pose = next
	c.mu.Unlock()

	c.bc.Trigger(next)
	return true
}
