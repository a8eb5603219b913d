package vision

import "math"

// LivenessReason classifies a liveness verdict.
type LivenessReason string

const (
	ReasonNoFaceFrame1 LivenessReason = "NoFaceFrame1"
	ReasonNoFaceFrame2 LivenessReason = "NoFaceFrame2"
	ReasonStatic       LivenessReason = "Static"
	ReasonExcessive    LivenessReason = "Excessive"
	ReasonInsufficient LivenessReason = "Insufficient"
	ReasonNatural      LivenessReason = "Natural"
)

// LivenessResult is the outcome of a two-frame liveness check.
type LivenessResult struct {
	IsLive     bool
	Confidence float32
	Reason     LivenessReason
}

// CheckLiveness compares landmark motion between two detections of the
// same subject captured roughly 500ms apart, distinguishing natural
// micro-movement from a static photo replay or excessive motion. The
// detection step itself is run once per frame by the caller, not here.
func CheckLiveness(landmarks1, landmarks2 [5][2]float32) LivenessResult {
	motion := normalizedMotion(landmarks1, landmarks2)

	if motion < 0.001 {
		return LivenessResult{IsLive: false, Confidence: 0.2, Reason: ReasonStatic}
	}
	if motion > 0.15 {
		return LivenessResult{IsLive: false, Confidence: 0.3, Reason: ReasonExcessive}
	}

	eyeMotion := eyeRegionMotion(landmarks1, landmarks2)
	confidence := livenessConfidence(motion, eyeMotion)
	isLive := confidence >= 0.7

	reason := ReasonInsufficient
	if isLive {
		reason = ReasonNatural
	}

	return LivenessResult{IsLive: isLive, Confidence: confidence, Reason: reason}
}

// normalizedMotion is the mean per-point landmark displacement between the
// two frames, normalized by the first frame's eye distance for scale
// invariance.
func normalizedMotion(lmk1, lmk2 [5][2]float32) float32 {
	eyeDist := float32(math.Hypot(float64(lmk1[1][0]-lmk1[0][0]), float64(lmk1[1][1]-lmk1[0][1])))
	if eyeDist < 1 {
		return 0
	}

	var sum float32
	for i := range lmk1 {
		d := float32(math.Hypot(float64(lmk2[i][0]-lmk1[i][0]), float64(lmk2[i][1]-lmk1[i][1])))
		sum += d / eyeDist
	}
	return sum / float32(len(lmk1))
}

// eyeRegionMotion is the mean absolute vertical displacement of the two
// eye landmarks, used as a proxy for blink-like movement.
func eyeRegionMotion(lmk1, lmk2 [5][2]float32) float32 {
	leftDiff := float32(math.Abs(float64(lmk2[0][1] - lmk1[0][1])))
	rightDiff := float32(math.Abs(float64(lmk2[1][1] - lmk1[1][1])))
	return (leftDiff + rightDiff) / 2
}

// livenessConfidence combines a bell-shaped score peaking at the natural
// micro-movement midpoint (0.03) with a capped eye-movement bonus.
func livenessConfidence(motion, eyeMotion float32) float32 {
	var movementScore float32
	switch {
	case motion >= 0.005 && motion <= 0.08:
		deviation := float32(math.Abs(float64(motion-0.03))) / 0.05
		movementScore = float32(math.Max(0, float64(1-deviation)))
	case motion > 0.08:
		movementScore = float32(math.Max(0, float64(0.5-(motion-0.08)/0.14)))
	}

	eyeScore := eyeMotion * 10
	if eyeScore > 0.3 {
		eyeScore = 0.3
	}

	confidence := movementScore + eyeScore
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
