package state

// Gender is a closed tag for the agent's self-presentation.
type Gender string

const (
	GenderNeutral Gender = "neutral"
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
)

// Personality holds the trait weights that scale pressure/tick formulas
// throughout C8.
type Personality struct {
	Humor       float64
	Formality   float64
	Curiosity   float64
	Patience    float64
	Empathy     float64
	Shyness     float64
	Independence float64
}

// Identity is stable, boot-time agent configuration (spec.md §3
// AgentIdentity). Unlike AgentState it is never mutated by the scheduler.
type Identity struct {
	Name        string
	Gender      Gender
	Values      []string
	Boundaries  []string
	Personality Personality
	Preferences map[string]string
}
