package model

// PreferenceKey identifies a legacy device preference slot
type PreferenceKey byte

const (
	PrefTarget      PreferenceKey = 1
	PrefMaxSpeed    PreferenceKey = 3
	PrefStartSpeed  PreferenceKey = 4
	PrefStartIntel  PreferenceKey = 5
	PrefSensitivity PreferenceKey = 6
	PrefDisplay     PreferenceKey = 7
	PrefUnits       PreferenceKey = 8
	PrefChildLock   PreferenceKey = 9
)

type Sensitivity int

const (
	SensitivityHigh   Sensitivity = 1
	SensitivityMedium Sensitivity = 2
	SensitivityLow    Sensitivity = 3
)

func (s Sensitivity) String() string {
	switch s {
	case SensitivityHigh:
		return "High"
	case SensitivityMedium:
		return "Medium"
	case SensitivityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// TargetType selects what SetTarget counts towards
type TargetType byte

const (
	TargetNone     TargetType = 0
	TargetDistance TargetType = 1
	TargetCalories TargetType = 2
	TargetTime     TargetType = 3
)
