package domain

import "math"

// editMultiplier is the per-edit-type multiplier from §4.10's image edit row.
var editMultiplier = map[EditType]float64{
	EditInpaint:           1,
	EditOutpaint:          1,
	EditRestyle:           1.5,
	EditBackgroundReplace: 2,
}

// qualityMultiplier is the per-quality multiplier shared by the video text-to-video
// row and reused for image-to-video / frame-interpolation quality scaling.
var qualityMultiplier = map[Quality]float64{
	QualityBasic:    1,
	QualityStandard: 1.5,
	QualityHigh:     2,
}

// trainingCost is the enumerated training price table from §4.10.
var trainingCost = map[int]int{
	600:  10,
	1200: 20,
	2000: 35,
}

// Price computes the integer credit cost of a request per §4.10. It is a pure
// function: admission is the only caller, and the result is stored verbatim as
// Job.Cost at creation.
func Price(p Params) (int, error) {
	switch {
	case p.Kind() == KindTraining:
		return priceTraining(p)
	case p.Kind() == KindVideo:
		return priceVideo(p)
	default:
		return priceImage(p)
	}
}

// Kind infers the job kind from populated params fields, used only by Price;
// callers that already know the kind should not rely on this inference.
func (p Params) Kind() Kind {
	if p.Steps > 0 || p.BaseModel != "" {
		return KindTraining
	}
	if p.GenerationType != "" || p.DurationSeconds > 0 {
		return KindVideo
	}
	return KindImage
}

func priceImage(p Params) (int, error) {
	if p.EditType != "" {
		mult, ok := editMultiplier[p.EditType]
		if !ok {
			return 0, ErrInvalidArgument
		}
		return int(math.Ceil(2 * mult)), nil
	}
	switch p.Quality {
	case QualityHigh:
		return 3, nil
	case QualityStandard, "":
		return 2, nil
	case QualityBasic:
		return 1, nil
	default:
		return 0, ErrInvalidArgument
	}
}

func priceVideo(p Params) (int, error) {
	if p.DurationSeconds <= 0 || p.FPS <= 0 {
		return 0, ErrInvalidArgument
	}
	seconds := float64(p.DurationSeconds)
	fps := float64(p.FPS)

	switch p.GenerationType {
	case VideoTextToVideo:
		mult, ok := qualityMultiplier[orDefault(p.Quality, QualityBasic)]
		if !ok {
			return 0, ErrInvalidArgument
		}
		return int(math.Ceil(5 * (seconds / 5) * mult)), nil
	case VideoImageToVideo:
		mult, ok := qualityMultiplier[orDefault(p.Quality, QualityBasic)]
		if !ok {
			return 0, ErrInvalidArgument
		}
		return int(math.Ceil(8 * (seconds / 5) * mult)), nil
	case VideoFrameInterp:
		mult, ok := qualityMultiplier[orDefault(p.Quality, QualityBasic)]
		if !ok {
			return 0, ErrInvalidArgument
		}
		return int(math.Ceil(10 * (seconds / 5) * mult)), nil
	default:
		generic := int(math.Ceil(seconds * fps / 16))
		if generic < 2 {
			generic = 2
		}
		return generic, nil
	}
}

func priceTraining(p Params) (int, error) {
	cost, ok := trainingCost[p.Steps]
	if !ok {
		return 0, ErrInvalidArgument
	}
	return cost, nil
}

func orDefault(q Quality, def Quality) Quality {
	if q == "" {
		return def
	}
	return q
}
