// Package console provides the concrete VGA text-mode console used to
// satisfy the kernel's console collaborator contract. The core kernel
// treats this driver as an external collaborator: it only depends on it
// through the small interface declared here and in kernel/hal.
package console

import "image/color"

// ScrollDir defines a scroll direction.
type ScrollDir uint8

// The supported list of scroll directions for the console Scroll() calls.
const (
	ScrollDirUp ScrollDir = iota
	ScrollDirDown
)

// Dimension defines the types of dimensions that can be queried off a device.
type Dimension uint8

const (
	// Characters describes the number of characters in the console.
	Characters Dimension = iota

	// Pixels describes the number of pixels in the console framebuffer.
	Pixels
)

// Device is implemented by objects that can function as the system console.
// It never blocks and is responsible for its own line wrapping and
// scrolling, per the Console collaborator contract.
type Device interface {
	// Dimensions returns the width and height of the console using a
	// particular dimension.
	Dimensions(Dimension) (uint32, uint32)

	// DefaultColors returns the default foreground and background colors
	// used by this console.
	DefaultColors() (fg, bg uint8)

	// Fill sets the contents of the specified rectangular region to the
	// requested color. Both x and y coordinates are 1-based.
	Fill(x, y, width, height uint32, fg, bg uint8)

	// Scroll the console contents in the specified direction. The caller
	// is responsible for updating the contents of the scrolled region.
	Scroll(dir ScrollDir, lines uint32)

	// Write a char to the specified location. Both x and y coordinates
	// are 1-based.
	Write(ch byte, fg, bg uint8, x, y uint32)

	// Palette returns the active color palette for this console.
	Palette() color.Palette

	// SetPaletteColor updates the color definition for the specified
	// palette index. A call with an out-of-range index is a no-op.
	SetPaletteColor(uint8, color.RGBA)
}
