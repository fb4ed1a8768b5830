package model

import "fmt"

// ControlKind enumerates the closed set of playback control commands.
// Loosely-typed client payloads are validated into this set at the HTTP and
// websocket boundaries so the supervisor's transition table stays exhaustive.
type ControlKind int

const (
	ControlPause ControlKind = iota
	ControlResume
	ControlSkip
	ControlRestart
	ControlSetVolume
	ControlVolumeUp
	ControlVolumeDown
	ControlTranspose
)

// Control is a validated playback command.
type Control struct {
	Kind      ControlKind
	Volume    float64 // ControlSetVolume
	Semitones int     // ControlTranspose
}

// ParseControl validates a stringly-typed action into a Control.
func ParseControl(action string, value float64) (Control, error) {
	switch action {
	case "pause":
		return Control{Kind: ControlPause}, nil
	case "resume", "play":
		return Control{Kind: ControlResume}, nil
	case "skip", "next":
		return Control{Kind: ControlSkip}, nil
	case "restart":
		return Control{Kind: ControlRestart}, nil
	case "volume":
		return Control{Kind: ControlSetVolume, Volume: value}, nil
	case "volume_up":
		return Control{Kind: ControlVolumeUp}, nil
	case "volume_down":
		return Control{Kind: ControlVolumeDown}, nil
	case "transpose":
		return Control{Kind: ControlTranspose, Semitones: int(value)}, nil
	default:
		return Control{}, fmt.Errorf("unknown control action %q", action)
	}
}
