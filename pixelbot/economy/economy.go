// Package economy holds the shared contracts between the economy engines and
// their external collaborators.
package economy

import "github.com/disgoorg/snowflake/v2"

// ExperienceReporter is the narrow callback into the leveling subsystem. It
// is invoked after any balance-affecting resolution with the player's net
// currency delta for that event. A nil reporter disables leveling.
type ExperienceReporter func(userID snowflake.ID, delta int64)

// Report invokes r when set.
func (r ExperienceReporter) Report(userID snowflake.ID, delta int64) {
	if r != nil {
		r(userID, delta)
	}
}
