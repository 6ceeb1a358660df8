package domain

// Policy is the effective follow-up policy for one lead, resolved at
// evaluation time from three precedence layers (lead > property > agent).
// It is a value object and is never stored.
type Policy struct {
	Enabled          bool
	MaxStage         int
	Stage1DelayHours int
	Stage2DelayHours int
	Intent           Intent
}

// DelayHoursForStage returns the configured delay before the given stage
// fires. Stage 0 uses the stage-1 delay (first nudge after initial reply).
func (p Policy) DelayHoursForStage(stage int) int {
	if stage >= 1 {
		return p.Stage2DelayHours
	}
	return p.Stage1DelayHours
}

// ResolvePolicy computes the effective policy. Precedence per field:
// lead override, then property override, then agent default. Intent is
// inferred from the property's listing kind and defaults to rent.
func ResolvePolicy(lead *Lead, property *Property, agent *Agent) Policy {
	p := Policy{
		Enabled:          agent.FollowupEnabled,
		MaxStage:         agent.FollowupMaxStage,
		Stage1DelayHours: agent.Stage1DelayHours,
		Stage2DelayHours: agent.Stage2DelayHours,
		Intent:           IntentRent,
	}

	if property != nil {
		if property.FollowupEnabled != nil {
			p.Enabled = *property.FollowupEnabled
		}
		if property.MaxStageOverride != nil {
			p.MaxStage = *property.MaxStageOverride
		}
		if property.Kind == ListingSale {
			p.Intent = IntentBuy
		}
	}

	if lead != nil {
		if lead.FollowupEnabled != nil {
			p.Enabled = *lead.FollowupEnabled
		}
		if lead.MaxStageOverride != nil {
			p.MaxStage = *lead.MaxStageOverride
		}
	}

	if p.MaxStage < 0 {
		p.MaxStage = 0
	}
	if p.MaxStage > MaxFollowupStage {
		p.MaxStage = MaxFollowupStage
	}
	return p
}
