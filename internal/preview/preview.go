// Package preview renders thumbnails of conversion sources at fixed resolution tiers.
package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tier is the edge length in pixels of a rendered preview.
type Tier int

const (
	TierLow Tier = 108
	TierSD  Tier = 540
	TierHD  Tier = 1080
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierSD:
		return "sd"
	case TierHD:
		return "hd"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "108":
		return TierLow, nil
	case "sd", "540":
		return TierSD, nil
	case "hd", "1080":
		return TierHD, nil
	default:
		return 0, fmt.Errorf("unknown preview tier %q", s)
	}
}

// Image is a rendered preview.
type Image struct {
	Source      string
	Tier        Tier
	ContentType string
	Data        []byte
}

type Renderer interface {
	Render(ctx context.Context, sourcePath string, tier Tier) (Image, error)
}

var (
	ErrDisabled = errors.New("preview rendering disabled")
	ErrNotImage = errors.New("preview response is not an image")
)

// Disabled is the Renderer used when previews are switched off.
type Disabled struct{}

func (Disabled) Render(context.Context, string, Tier) (Image, error) { return Image{}, ErrDisabled }
