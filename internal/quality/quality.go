package quality

import (
	"math"

	"faceattend/internal/apperror"
)

// Calibration constants of the gate.
const (
	BlurThreshold     = 100.0
	SharpnessSaturate = 200.0
	BrightnessLow     = 80.0
	BrightnessHigh    = 200.0
	BrightnessFalloff = 55.0
	SizeSaturate      = 150.0
	DefaultMinScore   = 0.5

	blurWeight       = 0.4
	brightnessWeight = 0.3
	sizeWeight       = 0.3
)

// Signals are the numeric inputs measured on a detected face region.
type Signals struct {
	Height     int
	Width      int
	Sharpness  float64 // variance of the Laplacian over the grayscale region
	Brightness float64 // mean grayscale intensity
}

// Assessment is the scored outcome for one region.
type Assessment struct {
	Score      float64 `json:"quality_score"`
	IsBlurry   bool    `json:"is_blurry"`
	Blur       float64 `json:"blur_component"`
	Brightness float64 `json:"brightness_component"`
	Size       float64 `json:"size_component"`
}

// Assess scores s. It is a pure function of its inputs.
func Assess(s Signals) Assessment {
	blur := clamp01(s.Sharpness / SharpnessSaturate)
	bright := brightnessComponent(s.Brightness)
	size := clamp01(float64(min(s.Height, s.Width)) / SizeSaturate)

	score := blurWeight*blur + brightnessWeight*bright + sizeWeight*size
	return Assessment{
		Score:      round2(clamp01(score)),
		IsBlurry:   s.Sharpness < BlurThreshold,
		Blur:       blur,
		Brightness: bright,
		Size:       size,
	}
}

func brightnessComponent(b float64) float64 {
	switch {
	case b < BrightnessLow:
		return clamp01(b / BrightnessLow)
	case b > BrightnessHigh:
		return math.Max(1.0-(b-BrightnessHigh)/BrightnessFalloff, 0.0)
	default:
		return 1.0
	}
}

// Gate admits samples whose score reaches MinScore.
type Gate struct {
	MinScore float64
}

// NewGate returns a gate with the given admission threshold; non-positive means the default 0.5.
func NewGate(minScore float64) Gate {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return Gate{MinScore: minScore}
}

// Admit accepts score iff score >= MinScore (inclusive).
func (g Gate) Admit(score float64) error {
	if score >= g.minScore() {
		return nil
	}
	return apperror.LowQuality(score)
}

// Check assesses s and applies Admit to the resulting score.
func (g Gate) Check(s Signals) (Assessment, error) {
	a := Assess(s)
	return a, g.Admit(a.Score)
}

func (g Gate) minScore() float64 {
	if g.MinScore <= 0 {
		return DefaultMinScore
	}
	return g.MinScore
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
