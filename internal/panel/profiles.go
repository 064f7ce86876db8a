package panel

import "github.com/rashmirrout/pilotdesk/internal/config"

// Profile describes one panelist persona. The default set is balanced:
// no two profiles share an analytical lens.
type Profile struct {
	ID      int
	Name    string
	Persona string
}

var defaultProfiles = []Profile{
	{ID: 1, Name: "Priya", Persona: "a pragmatist who weighs cost, effort, and delivery risk before anything else"},
	{ID: 2, Name: "Soren", Persona: "a skeptic who probes assumptions and looks for the failure case everyone missed"},
	{ID: 3, Name: "Vera", Persona: "a visionary who argues from where the field will be in five years"},
	{ID: 4, Name: "Arman", Persona: "an analyst who insists on data, base rates, and measurable outcomes"},
	{ID: 5, Name: "Uche", Persona: "a user advocate who evaluates everything by its effect on the people using it"},
	{ID: 6, Name: "Elin", Persona: "an economist who reasons about incentives, trade-offs, and second-order effects"},
	{ID: 7, Name: "Gabor", Persona: "an engineer who cares about simplicity, operability, and what breaks at 3am"},
	{ID: 8, Name: "Hana", Persona: "a historian who compares the question to how similar decisions played out before"},
}

// profilesFor returns the first n default profiles, clamped to the set.
func profilesFor(n int) []Profile {
	if n < 1 {
		n = 1
	}
	if n > len(defaultProfiles) {
		n = len(defaultProfiles)
	}
	out := make([]Profile, n)
	copy(out, defaultProfiles[:n])
	return out
}

// modelFor picks a panelist model deterministically from the configured
// list, falling back to the primary model.
func modelFor(p Profile, settings config.PanelSettings) string {
	if len(settings.PanelistModels) == 0 {
		return settings.PrimaryModel
	}
	return settings.PanelistModels[p.ID%len(settings.PanelistModels)]
}
