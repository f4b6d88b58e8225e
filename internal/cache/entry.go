package cache

import "time"

// Entry is the index record of a compiled unit
type Entry struct {
	// Hash is the identity hash of the script
	Hash string `json:"hash"`

	// Script is the absolute path of the top-level script
	Script string `json:"script"`

	// UnitPath is the compiled executable
	UnitPath string `json:"unit_path"`

	// Compiler is the backend id that produced the unit
	Compiler string `json:"compiler"`

	// Checksum is the SHA-256 of the compiled unit
	Checksum string `json:"checksum,omitempty"`

	// Dependencies is the number of entries in the unit's manifest
	Dependencies int `json:"dependencies"`

	// Builds counts compilations of this script
	Builds int `json:"builds"`

	// Hits counts invocations served from the cache
	Hits int `json:"hits"`

	LastBuild time.Time `json:"last_build"`
	LastHit   time.Time `json:"last_hit,omitempty"`
}
