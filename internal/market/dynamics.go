package market

import (
	"math"
	"strings"
)

const (
	RegimeBull    = "bull"
	RegimeBear    = "bear"
	RegimeNeutral = "neutral"
)

type dynamics struct {
	NoiseScale        float64
	ShockProb         float64
	ShockScale        float64
	ExtremeShockProb  float64
	ExtremeShockScale float64
	MeanReversion     float64
	AnchorNoiseScale  float64
	RegimeSwitchProb  float64
	MaxDropPerTick    float64
}

// Ticks here are seconds apart rather than minutes, so every mode is much
// tamer than a per-season tick would be.
func volatilityParams(mode string) dynamics {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "calm":
		return dynamics{
			NoiseScale:        0.002,
			ShockProb:         0.01,
			ShockScale:        0.015,
			ExtremeShockProb:  0.001,
			ExtremeShockScale: 0.05,
			MeanReversion:     0.02,
			AnchorNoiseScale:  0.001,
			RegimeSwitchProb:  0.01,
			MaxDropPerTick:    0.10,
		}
	case "wild":
		return dynamics{
			NoiseScale:        0.012,
			ShockProb:         0.05,
			ShockScale:        0.05,
			ExtremeShockProb:  0.008,
			ExtremeShockScale: 0.15,
			MeanReversion:     0.008,
			AnchorNoiseScale:  0.004,
			RegimeSwitchProb:  0.04,
			MaxDropPerTick:    0.30,
		}
	default:
		return dynamics{
			NoiseScale:        0.006,
			ShockProb:         0.025,
			ShockScale:        0.03,
			ExtremeShockProb:  0.003,
			ExtremeShockScale: 0.10,
			MeanReversion:     0.012,
			AnchorNoiseScale:  0.002,
			RegimeSwitchProb:  0.02,
			MaxDropPerTick:    0.20,
		}
	}
}

func NormalizeVolatility(mode string) string {
	switch v := strings.ToLower(strings.TrimSpace(mode)); v {
	case "calm", "mor", "wild":
		return v
	default:
		return "mor"
	}
}

func randomRegime(seed float64) string {
	switch {
	case seed < 0.33:
		return RegimeBear
	case seed < 0.66:
		return RegimeNeutral
	default:
		return RegimeBull
	}
}

func regimeDrift(regime string) float64 {
	switch regime {
	case RegimeBull:
		return 0.0008
	case RegimeBear:
		return -0.0008
	default:
		return 0
	}
}

func meanReversion(price, anchor int64, strength float64) float64 {
	if anchor <= 0 {
		return 0
	}
	return strength * (float64(anchor-price) / float64(anchor))
}

func normalish(seed float64) float64 {
	return seed + seed - 1
}

func signedShock(magSeed, signSeed, base float64) float64 {
	mag := base * (0.35 + 2.8*magSeed*magSeed)
	if signSeed < 0.5 {
		return -mag
	}
	return mag
}

func evolvePrice(priceMicros int64, ret, maxDropPerTick float64) int64 {
	if priceMicros <= 0 {
		return 1
	}
	// Bound only the downside; upside can run.
	if ret < -maxDropPerTick {
		ret = -maxDropPerTick
	}
	next := int64(math.Round(float64(priceMicros) * math.Exp(ret)))
	if next < 1 {
		next = 1
	}
	return next
}
