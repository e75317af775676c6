package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidActionParams is returned when an action's parameters don't
// match the shape its kind requires.
var ErrInvalidActionParams = errors.New("invalid action parameters")

// ActionKind identifies which action a ScheduledTask fires.
type ActionKind string

const (
	ActionArmSystem    ActionKind = "ARM_SYSTEM"
	ActionDisarmSystem ActionKind = "DISARM_SYSTEM"
)

// ArmMode is the security-system mode an ARM_SYSTEM action requests.
type ArmMode string

const (
	ArmModeAway ArmMode = "away"
	ArmModeStay ArmMode = "stay"
)

// ActionParams is the tagged sum of action parameter shapes: ArmSystemParams
// for ActionArmSystem, DisarmSystemParams for ActionDisarmSystem. The
// executor and action dispatcher handle the kind opaquely; only the entity
// validates that params match kind.
type ActionParams struct {
	Arm    *ArmSystemParams
	Disarm *DisarmSystemParams
}

// ArmSystemParams are the parameters for an ARM_SYSTEM action.
type ArmSystemParams struct {
	Mode    ArmMode
	ZoneIDs []string // optional
}

// DisarmSystemParams are the parameters for a DISARM_SYSTEM action.
type DisarmSystemParams struct {
	ZoneIDs []string // optional
}

// NewArmSystemAction builds action params for kind ARM_SYSTEM, validating
// that mode is one of the accepted values.
func NewArmSystemAction(mode ArmMode, zoneIDs []string) (ActionKind, ActionParams, error) {
	if mode != ArmModeAway && mode != ArmModeStay {
		return "", ActionParams{}, fmt.Errorf("%w: mode must be %q or %q, got %q", ErrInvalidActionParams, ArmModeAway, ArmModeStay, mode)
	}
	return ActionArmSystem, ActionParams{Arm: &ArmSystemParams{Mode: mode, ZoneIDs: zoneIDs}}, nil
}

// NewDisarmSystemAction builds action params for kind DISARM_SYSTEM.
func NewDisarmSystemAction(zoneIDs []string) (ActionKind, ActionParams, error) {
	return ActionDisarmSystem, ActionParams{Disarm: &DisarmSystemParams{ZoneIDs: zoneIDs}}, nil
}

// Validate reports whether params match the shape kind requires (spec.md
// §3.4 invariant 5: "action-params is valid for action-kind at all times").
func (p ActionParams) Validate(kind ActionKind) error {
	switch kind {
	case ActionArmSystem:
		if p.Arm == nil {
			return fmt.Errorf("%w: %s requires arm params", ErrInvalidActionParams, kind)
		}
		if p.Arm.Mode != ArmModeAway && p.Arm.Mode != ArmModeStay {
			return fmt.Errorf("%w: %s mode must be %q or %q, got %q", ErrInvalidActionParams, kind, ArmModeAway, ArmModeStay, p.Arm.Mode)
		}
		return nil
	case ActionDisarmSystem:
		if p.Disarm == nil {
			return fmt.Errorf("%w: %s requires disarm params", ErrInvalidActionParams, kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidActionParams, kind)
	}
}
