package geometry

import "testing"

func TestClampKeepsInBoundsBoxUnchanged(t *testing.T) {
	viewport := Rect{Width: 800, Height: 600}
	box := Box{X: 100, Y: 50, Width: 200, Height: 150}

	clamped := Clamp(box, viewport)
	if clamped != box {
		t.Fatalf("expected in-bounds box to pass through, got %+v", clamped)
	}
}

func TestClampPullsOverflowBackInside(t *testing.T) {
	viewport := Rect{Width: 800, Height: 600}
	box := Box{X: 790, Y: 10, Width: 100, Height: 100}

	clamped := Clamp(box, viewport)
	if clamped.X != 700 {
		t.Fatalf("expected x clamped to 700, got %v", clamped.X)
	}
	if clamped.Y != 10 {
		t.Fatalf("expected y untouched, got %v", clamped.Y)
	}
}

func TestClampNegativeOrigin(t *testing.T) {
	viewport := Rect{Width: 800, Height: 600}
	box := Box{X: -50, Y: -50, Width: 100, Height: 100}

	clamped := Clamp(box, viewport)
	if clamped.X != 0 || clamped.Y != 0 {
		t.Fatalf("expected origin clamped to (0,0), got (%v,%v)", clamped.X, clamped.Y)
	}
}

func TestClampEnforcesMinimumSize(t *testing.T) {
	viewport := Rect{Width: 800, Height: 600}
	box := Box{X: 10, Y: 10, Width: 2, Height: 5}

	clamped := Clamp(box, viewport)
	if clamped.Width != MinimumSize || clamped.Height != MinimumSize {
		t.Fatalf("expected minimum size floor, got %vx%v", clamped.Width, clamped.Height)
	}
}

func TestClampOversizedBoxShrinksToViewport(t *testing.T) {
	viewport := Rect{Width: 800, Height: 600}
	box := Box{X: 100, Y: 100, Width: 2000, Height: 900}

	clamped := Clamp(box, viewport)
	if clamped.Width != viewport.Width {
		t.Fatalf("expected width bounded to viewport, got %v", clamped.Width)
	}
	if clamped.Height != viewport.Height {
		t.Fatalf("expected height bounded to viewport, got %v", clamped.Height)
	}
	if clamped.X != 0 || clamped.Y != 0 {
		t.Fatalf("expected origin forced to (0,0), got (%v,%v)", clamped.X, clamped.Y)
	}
}

func TestClampIsIdempotent(t *testing.T) {
	viewports := []Rect{
		{Width: 800, Height: 600},
		{Width: 320, Height: 240},
		{Width: 15, Height: 15},
	}
	boxes := []Box{
		{X: -10, Y: -10, Width: 50, Height: 50},
		{X: 900, Y: 700, Width: 100, Height: 100},
		{X: 5, Y: 5, Width: 1, Height: 1},
		{X: 0, Y: 0, Width: 5000, Height: 5000},
	}
	for _, viewport := range viewports {
		for _, box := range boxes {
			once := Clamp(box, viewport)
			twice := Clamp(once, viewport)
			if once != twice {
				t.Fatalf("clamp not idempotent for %+v in %+v: %+v then %+v", box, viewport, once, twice)
			}
		}
	}
}

func TestClampBoundsInvariant(t *testing.T) {
	viewport := Rect{Width: 800, Height: 600}
	boxes := []Box{
		{X: -100, Y: 650, Width: 240, Height: 30},
		{X: 795, Y: 595, Width: 90, Height: 90},
		{X: 400, Y: 300, Width: 100, Height: 100},
	}
	for _, box := range boxes {
		clamped := Clamp(box, viewport)
		if !Contains(clamped, viewport) {
			t.Fatalf("clamped box escapes viewport: %+v", clamped)
		}
		if clamped.Width < MinimumSize || clamped.Height < MinimumSize {
			t.Fatalf("clamped box below minimum size: %+v", clamped)
		}
	}
}

func TestClampPoint(t *testing.T) {
	viewport := Rect{Width: 800, Height: 600}
	x, y := ClampPoint(-20, 700, viewport)
	if x != 0 || y != 600 {
		t.Fatalf("expected (0,600), got (%v,%v)", x, y)
	}
}
