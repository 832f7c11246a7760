package models

// Stage names a step of the content pipeline.
type Stage string

const (
	StageTopic     Stage = "topic"
	StageContent   Stage = "content"
	StageMedia     Stage = "media"
	StageTranslate Stage = "translate"
	StageSEO       Stage = "seo"
	StageApproval  Stage = "approval"
	StagePublish   Stage = "publish"
	StageSocial    Stage = "social"
	StagePodcast   Stage = "podcast"

	// StageDone is the current stage of a completed run.
	StageDone Stage = "done"
)

// StageOrder is the canonical, total order every run follows.
var StageOrder = []Stage{
	StageTopic,
	StageContent,
	StageMedia,
	StageTranslate,
	StageSEO,
	StageApproval,
	StagePublish,
	StageSocial,
	StagePodcast,
}

// FirstStage returns the stage a new run starts at.
func FirstStage() Stage {
	return StageOrder[0]
}

// StageIndex returns the position of stage in StageOrder, or -1.
func StageIndex(stage Stage) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}

	return -1
}

// NextStage returns the stage following stage. ok is false when stage is the
// last one (or unknown), in which case the run is done.
func NextStage(stage Stage) (Stage, bool) {
	idx := StageIndex(stage)
	if idx < 0 || idx+1 >= len(StageOrder) {
		return StageDone, false
	}

	return StageOrder[idx+1], true
}

// IsValid reports whether stage belongs to the canonical order.
func (s Stage) IsValid() bool {
	return StageIndex(s) >= 0
}

func (s Stage) String() string {
	return string(s)
}
