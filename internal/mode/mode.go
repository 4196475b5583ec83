// Package mode holds the static registry of assistive operating modes.
//
// A mode pairs a human-readable label with the behavioral instruction sent
// to the agent. The registry has no runtime state; selecting a mode is the
// shell's job.
package mode

// ID identifies one operating mode.
type ID string

const (
	// SceneNarration continuously describes the surroundings.
	SceneNarration ID = "scene_narration"

	// WalkingAssistance calls out obstacles and path hazards.
	WalkingAssistance ID = "walking_assistance"

	// ObjectFinding locates a specific object the user asks for.
	ObjectFinding ID = "object_finding"

	// DocumentReading reads visible text aloud.
	DocumentReading ID = "document_reading"

	// TaskGuidance gives step-by-step help with a manual task.
	TaskGuidance ID = "task_guidance"
)

// Default is the mode a fresh session starts in.
const Default = SceneNarration

// Mode describes one entry of the registry.
type Mode struct {
	ID    ID
	Label string

	// Instruction is the system instruction attached to a new session, and
	// the text forwarded inline when the user switches mode mid-session.
	Instruction string
}

var registry = map[ID]Mode{
	SceneNarration: {
		ID:    SceneNarration,
		Label: "Scene narration",
		Instruction: "You are a visual assistant for a blind or low-vision user. " +
			"Describe the scene in front of the camera in short, plain sentences. " +
			"Lead with the most important element, mention spatial layout using " +
			"clock directions, and stay silent when nothing has changed.",
	},
	WalkingAssistance: {
		ID:    WalkingAssistance,
		Label: "Walking assistance",
		Instruction: "You are a walking guide for a blind or low-vision user. " +
			"Warn immediately about obstacles, steps, curbs, vehicles, and people " +
			"in the walking path, with distance and clock direction. Keep every " +
			"warning under one sentence. Safety information always comes first.",
	},
	ObjectFinding: {
		ID:    ObjectFinding,
		Label: "Object finding",
		Instruction: "You help a blind or low-vision user find a specific object. " +
			"When the user names an object, scan the camera view for it. Guide " +
			"the user toward it with short directional cues, and say clearly " +
			"when the object is centered and within reach.",
	},
	DocumentReading: {
		ID:    DocumentReading,
		Label: "Document reading",
		Instruction: "You read printed and on-screen text aloud for a blind or " +
			"low-vision user. Read visible text verbatim in its natural order. " +
			"If the text is partly out of frame or too blurry, say how to move " +
			"the camera instead of guessing.",
	},
	TaskGuidance: {
		ID:    TaskGuidance,
		Label: "Task guidance",
		Instruction: "You guide a blind or low-vision user through manual tasks " +
			"step by step. Give one step at a time, confirm from the camera that " +
			"the step is done before moving on, and keep instructions concrete " +
			"and tactile.",
	},
}

// Lookup returns the mode for id. The second return value reports whether the
// id is registered; an unknown id is not an error at this level.
func Lookup(id ID) (Mode, bool) {
	m, ok := registry[id]
	return m, ok
}

// All returns every registered mode in a stable order.
func All() []Mode {
	order := []ID{SceneNarration, WalkingAssistance, ObjectFinding, DocumentReading, TaskGuidance}
	out := make([]Mode, 0, len(order))
	for _, id := range order {
		out = append(out, registry[id])
	}
	return out
}
