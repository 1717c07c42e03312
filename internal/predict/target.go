// Package predict computes upcoming METEOR-M satellite passes for a ground
// station using SGP4 orbital propagation. It handles TLE fetching with
// on-disk caching and pass filtering by minimum elevation.
package predict

import "strings"

// Target describes a METEOR-M LRPT bird: its common name and NORAD catalog
// number. Downlink frequency lives in the fallback tier table, not here,
// since it is an (escalatable) capture parameter rather than a property of
// the satellite record.
type Target struct {
	Name    string
	NoradID int
}

// Targets is the catalog of active METEOR-M LRPT satellites.
var Targets = []Target{
	{Name: "METEOR-M2 3", NoradID: 57166},
	{Name: "METEOR-M2 4", NoradID: 59051},
}

// TargetByName returns the target with the given name (case-insensitive),
// or nil if not found.
func TargetByName(name string) *Target {
	upper := strings.ToUpper(name)
	for i := range Targets {
		if strings.ToUpper(Targets[i].Name) == upper {
			return &Targets[i]
		}
	}
	return nil
}
