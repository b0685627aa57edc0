// Package cvss implements CVSS v3.x vector parsing and base score
// computation. The numeric score is the source of truth for finding
// severity; tools and models only supply vectors or candidate scores.
package cvss

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidVector is returned when a vector string cannot be parsed.
var ErrInvalidVector = errors.New("cvss: invalid vector")

// Vector holds the eight CVSS v3.x base metrics.
type Vector struct {
	AttackVector       string // N, A, L, P
	AttackComplexity   string // L, H
	PrivilegesRequired string // N, L, H
	UserInteraction    string // N, R
	Scope              string // U, C
	Confidentiality    string // H, L, N
	Integrity          string // H, L, N
	Availability       string // H, L, N
}

// ParseVector parses a CVSS v3.0/v3.1 vector string such as
// "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H".
func ParseVector(s string) (*Vector, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 9 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVector, s)
	}
	if parts[0] != "CVSS:3.0" && parts[0] != "CVSS:3.1" {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidVector, parts[0])
	}

	v := &Vector{}
	for _, p := range parts[1:] {
		key, val, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad metric %q", ErrInvalidVector, p)
		}
		switch key {
		case "AV":
			v.AttackVector = val
		case "AC":
			v.AttackComplexity = val
		case "PR":
			v.PrivilegesRequired = val
		case "UI":
			v.UserInteraction = val
		case "S":
			v.Scope = val
		case "C":
			v.Confidentiality = val
		case "I":
			v.Integrity = val
		case "A":
			v.Availability = val
		default:
			// Temporal and environmental metrics are ignored; base score only.
		}
	}

	if err := v.validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vector) validate() error {
	checks := []struct {
		name, val string
		allowed   string
	}{
		{"AV", v.AttackVector, "NALP"},
		{"AC", v.AttackComplexity, "LH"},
		{"PR", v.PrivilegesRequired, "NLH"},
		{"UI", v.UserInteraction, "NR"},
		{"S", v.Scope, "UC"},
		{"C", v.Confidentiality, "HLN"},
		{"I", v.Integrity, "HLN"},
		{"A", v.Availability, "HLN"},
	}
	for _, c := range checks {
		if len(c.val) != 1 || !strings.Contains(c.allowed, c.val) {
			return fmt.Errorf("%w: metric %s has value %q", ErrInvalidVector, c.name, c.val)
		}
	}
	return nil
}

// Score computes the CVSS v3.1 base score for the vector.
func (v *Vector) Score() float64 {
	avWeights := map[string]float64{"N": 0.85, "A": 0.62, "L": 0.55, "P": 0.2}
	acWeights := map[string]float64{"L": 0.77, "H": 0.44}
	uiWeights := map[string]float64{"N": 0.85, "R": 0.62}
	ciaWeights := map[string]float64{"H": 0.56, "L": 0.22, "N": 0}

	// PR weight depends on scope.
	prWeights := map[string]float64{"N": 0.85, "L": 0.62, "H": 0.27}
	if v.Scope == "C" {
		prWeights = map[string]float64{"N": 0.85, "L": 0.68, "H": 0.5}
	}

	iss := 1 - (1-ciaWeights[v.Confidentiality])*(1-ciaWeights[v.Integrity])*(1-ciaWeights[v.Availability])

	var impact float64
	if v.Scope == "U" {
		impact = 6.42 * iss
	} else {
		impact = 7.52*(iss-0.029) - 3.25*math.Pow(iss-0.02, 15)
	}

	if impact <= 0 {
		return 0
	}

	exploitability := 8.22 * avWeights[v.AttackVector] * acWeights[v.AttackComplexity] *
		prWeights[v.PrivilegesRequired] * uiWeights[v.UserInteraction]

	var raw float64
	if v.Scope == "U" {
		raw = math.Min(impact+exploitability, 10)
	} else {
		raw = math.Min(1.08*(impact+exploitability), 10)
	}

	return roundUp(raw)
}

// roundUp implements the Roundup function from the CVSS v3.1 specification:
// the smallest number with one decimal place that is >= the input.
func roundUp(x float64) float64 {
	intInput := math.Round(x * 100000)
	if math.Mod(intInput, 10000) == 0 {
		return intInput / 100000
	}
	return (math.Floor(intInput/10000) + 1) / 10
}

// ScoreFromVector is a convenience that parses and scores in one call.
func ScoreFromVector(s string) (float64, error) {
	v, err := ParseVector(s)
	if err != nil {
		return 0, err
	}
	return v.Score(), nil
}
