// Package tray puts a session indicator in the system tray. This file
// contains the icon generation for the indicator states.
package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
)

// iconSize is the edge length of the generated tray icons in pixels.
// The symbol coordinates below are drawn against this grid.
const iconSize = 22

// iconConfig describes one indicator state icon: a colored disc with a
// small symbol on it.
type iconConfig struct {
	Fill   color.RGBA
	Border color.RGBA
	Symbol symbol
}

type symbol int

const (
	symbolNone symbol = iota
	symbolCheck
	symbolLock
	symbolCross
	symbolDots
)

func connectedIconConfig() iconConfig {
	return iconConfig{
		Fill:   color.RGBA{56, 142, 60, 255},
		Border: color.RGBA{76, 175, 80, 255},
		Symbol: symbolCheck,
	}
}

func connectingIconConfig() iconConfig {
	return iconConfig{
		Fill:   color.RGBA{217, 119, 6, 255},
		Border: color.RGBA{245, 158, 11, 255},
		Symbol: symbolDots,
	}
}

func disabledIconConfig() iconConfig {
	return iconConfig{
		Fill:   color.RGBA{117, 117, 117, 255},
		Border: color.RGBA{158, 158, 158, 255},
		Symbol: symbolLock,
	}
}

func errorIconConfig() iconConfig {
	return iconConfig{
		Fill:   color.RGBA{183, 28, 28, 255},
		Border: color.RGBA{229, 57, 53, 255},
		Symbol: symbolCross,
	}
}

// Pre-generated icons; the tray swaps between them on phase changes.
var (
	iconConnected  = generateIcon(connectedIconConfig())
	iconConnecting = generateIcon(connectingIconConfig())
	iconDisabled   = generateIcon(disabledIconConfig())
	iconError      = generateIcon(errorIconConfig())
)

// iconFor picks the tray icon for a session phase.
func iconFor(phase string, hasError bool) []byte {
	switch phase {
	case "CONNECTED":
		return iconConnected
	case "CONNECTING", "DISCONNECTING":
		return iconConnecting
	default:
		if hasError {
			return iconError
		}
		return iconDisabled
	}
}

// generateIcon renders one state icon as PNG bytes.
func generateIcon(cfg iconConfig) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	drawDisc(img, cfg)
	drawSymbol(img, cfg.Symbol)

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// drawDisc fills a bordered circle covering the icon.
func drawDisc(img *image.RGBA, cfg iconConfig) {
	center := float64(iconSize) / 2
	radius := float64(iconSize)/2 - 1

	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx := float64(x) + 0.5 - center
			dy := float64(y) + 0.5 - center
			d := math.Sqrt(dx*dx + dy*dy)
			switch {
			case d <= radius-1.2:
				img.Set(x, y, cfg.Fill)
			case d <= radius:
				img.Set(x, y, cfg.Border)
			}
		}
	}
}

var symbolWhite = color.RGBA{255, 255, 255, 255}

func drawSymbol(img *image.RGBA, s symbol) {
	switch s {
	case symbolCheck:
		drawCheck(img)
	case symbolLock:
		drawLock(img)
	case symbolCross:
		drawCross(img)
	case symbolDots:
		drawDots(img)
	}
}

// drawCheck draws a two-pixel-thick checkmark.
func drawCheck(img *image.RGBA) {
	points := []struct{ x, y int }{
		{6, 11}, {7, 12}, {8, 13}, {9, 12}, {10, 11},
		{11, 10}, {12, 9}, {13, 8}, {14, 7},
	}
	for _, p := range points {
		img.Set(p.x, p.y, symbolWhite)
		img.Set(p.x, p.y+1, symbolWhite)
	}
}

// drawLock draws a padlock body with a shackle.
func drawLock(img *image.RGBA) {
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				img.Set(x, y, symbolWhite)
			}
		}
	}
	for y := 6; y <= 9; y++ {
		img.Set(9, y, symbolWhite)
		img.Set(13, y, symbolWhite)
	}
	for x := 9; x <= 13; x++ {
		img.Set(x, 6, symbolWhite)
	}
}

// drawCross draws a two-pixel-thick diagonal cross.
func drawCross(img *image.RGBA) {
	for i := 0; i <= 7; i++ {
		img.Set(7+i, 7+i, symbolWhite)
		img.Set(8+i, 7+i, symbolWhite)
		img.Set(14-i, 7+i, symbolWhite)
		img.Set(13-i, 7+i, symbolWhite)
	}
}

// drawDots draws a three-dot progress ellipsis.
func drawDots(img *image.RGBA) {
	for _, cx := range []int{7, 11, 15} {
		img.Set(cx, 11, symbolWhite)
		img.Set(cx-1, 11, symbolWhite)
		img.Set(cx, 10, symbolWhite)
		img.Set(cx-1, 10, symbolWhite)
	}
}
