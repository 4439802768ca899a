package validators

import (
	"fmt"

	"sentrygate/pkg/models"
)

// FuelReserveValidator enforces FAA 14 CFR §91.151: fuel to fly to the first point
// of intended landing plus a reserve of 30 minutes by day / 45 minutes at night, at
// normal cruise consumption.
type FuelReserveValidator struct{}

func (FuelReserveValidator) Name() string { return "FuelReserveValidator" }

func (v FuelReserveValidator) Validate(action models.ActionPrimitive, ctx models.AgentContext) models.ValidatorVerdict {
	params, err := action.ParametersMap()
	if err != nil {
		return missingParams(v.Name(), "flight_time_minutes")
	}
	flightMinutes, ok1 := floatParam(params, "flight_time_minutes")
	burnRate, ok2 := floatParam(params, "avg_burn_rate_kg_per_min")
	fuelOnBoard, ok3 := floatParam(params, "fuel_on_board_kg")
	if !ok1 || !ok2 || !ok3 {
		var missing []string
		if !ok1 {
			missing = append(missing, "flight_time_minutes")
		}
		if !ok2 {
			missing = append(missing, "avg_burn_rate_kg_per_min")
		}
		if !ok3 {
			missing = append(missing, "fuel_on_board_kg")
		}
		return missingParams(v.Name(), missing...)
	}
	isNight, _ := boolParam(params, "night_flight")

	reserveMinutes := 30.0
	if isNight {
		reserveMinutes = 45.0
	}
	totalRequired := (flightMinutes + reserveMinutes) * burnRate

	if fuelOnBoard < totalRequired {
		return deny(v.Name(), "FAA 14 CFR §91.151", fmt.Sprintf(
			"fuel on board %.1fkg below required %.1fkg (flight+reserve) per FAA 14 CFR §91.151", fuelOnBoard, totalRequired))
	}
	return allow(v.Name(), "FAA 14 CFR §91.151", "fuel reserve satisfied")
}

// CrewRestValidator enforces FAA 14 CFR §121.471: flight crew duty period may not
// exceed 540 minutes (9 hours) without a rest period.
type CrewRestValidator struct{}

func (CrewRestValidator) Name() string { return "CrewRestValidator" }

const maxDutyMinutes = 540.0

func (v CrewRestValidator) Validate(action models.ActionPrimitive, ctx models.AgentContext) models.ValidatorVerdict {
	params, err := action.ParametersMap()
	if err != nil {
		return missingParams(v.Name(), "current_duty_minutes")
	}
	currentDuty, ok1 := floatParam(params, "current_duty_minutes")
	additional, ok2 := floatParam(params, "additional_flight_minutes")
	if !ok1 || !ok2 {
		var missing []string
		if !ok1 {
			missing = append(missing, "current_duty_minutes")
		}
		if !ok2 {
			missing = append(missing, "additional_flight_minutes")
		}
		return missingParams(v.Name(), missing...)
	}

	totalDuty := currentDuty + additional
	if totalDuty > maxDutyMinutes {
		return deny(v.Name(), "14 CFR §121.471", fmt.Sprintf(
			"projected duty %.0fmin exceeds %.0fmin limit per 14 CFR §121.471", totalDuty, maxDutyMinutes))
	}
	return allow(v.Name(), "14 CFR §121.471", "crew duty within limits")
}

// AirspaceValidator enforces FAA 14 CFR §91.119 minimum safe altitudes, with
// terrain-class-dependent clearance above ground level.
type AirspaceValidator struct{}

func (AirspaceValidator) Name() string { return "AirspaceValidator" }

// agl gives the required clearance above ground level by terrain class, per
// 14 CFR §91.119(b)-(c).
var agl = map[string]float64{
	"congested":   1000,
	"open":        500,
	"mountainous": 2000,
}

func (v AirspaceValidator) Validate(action models.ActionPrimitive, ctx models.AgentContext) models.ValidatorVerdict {
	params, err := action.ParametersMap()
	if err != nil {
		return missingParams(v.Name(), "terrain_elevation_ft")
	}
	terrainElevation, ok1 := floatParam(params, "terrain_elevation_ft")
	plannedAltitude, ok2 := floatParam(params, "planned_altitude_msl_ft")
	terrainClass, ok3 := stringParam(params, "terrain_class")
	if !ok1 || !ok2 || !ok3 {
		var missing []string
		if !ok1 {
			missing = append(missing, "terrain_elevation_ft")
		}
		if !ok2 {
			missing = append(missing, "planned_altitude_msl_ft")
		}
		if !ok3 {
			missing = append(missing, "terrain_class")
		}
		return missingParams(v.Name(), missing...)
	}

	clearance, ok := agl[terrainClass]
	if !ok {
		return escalate(v.Name(), "INSUFFICIENT_CONTEXT", fmt.Sprintf("unrecognized terrain_class %q", terrainClass))
	}

	minAltitude := terrainElevation + clearance
	if plannedAltitude < minAltitude {
		return deny(v.Name(), "FAA 14 CFR §91.119", fmt.Sprintf(
			"planned altitude %.0fft MSL below minimum safe altitude %.0fft MSL for %s terrain per FAA 14 CFR §91.119",
			plannedAltitude, minAltitude, terrainClass))
	}
	return allow(v.Name(), "FAA 14 CFR §91.119", "altitude clears minimum safe altitude")
}
