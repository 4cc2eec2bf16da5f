package domain

// Stage is one of the ordered pipeline phases.
type Stage string

const (
	StageIngest   Stage = "ingest"
	StageSkeleton Stage = "skeleton"
	StageSkinning Stage = "skinning"
	StageMerge    Stage = "merge"
)

// DefaultSkeletonSeed is used when a skeleton trigger carries no seed.
const DefaultSkeletonSeed = 42

var stageOrder = map[Stage]int{
	StageIngest:   0,
	StageSkeleton: 1,
	StageSkinning: 2,
	StageMerge:    3,
}

// Order returns the stage's position in pipeline order, or -1 for an
// unknown stage.
func (s Stage) Order() int {
	o, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return o
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Prev returns the stage that must have completed before s may run.
// Ingest has no predecessor.
func (s Stage) Prev() (Stage, bool) {
	switch s {
	case StageSkeleton:
		return StageIngest, true
	case StageSkinning:
		return StageSkeleton, true
	case StageMerge:
		return StageSkinning, true
	default:
		return "", false
	}
}

// ResultKind maps a stage to the artifact kind its success produces.
func (s Stage) ResultKind() ArtifactKind {
	switch s {
	case StageIngest:
		return ArtifactModel
	case StageSkeleton:
		return ArtifactSkeleton
	case StageSkinning:
		return ArtifactSkinning
	case StageMerge:
		return ArtifactRigged
	default:
		return ""
	}
}

// Producer maps an artifact kind to the stage whose success produces it.
func (k ArtifactKind) Producer() Stage {
	switch k {
	case ArtifactModel:
		return StageIngest
	case ArtifactSkeleton:
		return StageSkeleton
	case ArtifactSkinning:
		return StageSkinning
	case ArtifactRigged:
		return StageMerge
	default:
		return ""
	}
}

// Status tracks the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Active reports whether the status occupies the session's single job slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Terminal reports whether the status is final. Terminal jobs are never
// resurrected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
