// ABOUTME: Access levels and capability grants for API authorization
// ABOUTME: Capabilities match exactly or via suffix wildcards like robot.*

package auth

import "strings"

// AccessLevel identifies the privilege tier of an authenticated caller.
type AccessLevel string

// Known access levels.
const (
	LevelAdmin  AccessLevel = "ADMIN"
	LevelMuseum AccessLevel = "MUSEUM"
)

// Valid reports whether the level is one this service issues.
func (l AccessLevel) Valid() bool {
	return l == LevelAdmin || l == LevelMuseum
}

// Capability grants per level. A grant ending in ".*" covers every
// capability under that prefix; a bare "*" covers everything. Museum
// staff can observe the fleet and run the exhibition but never command
// individual robots.
var levelCapabilities = map[AccessLevel][]string{
	LevelAdmin: {"*"},
	LevelMuseum: {
		"robot.view",
		"exhibition.start",
		"exhibition.stop",
		"logs.view_basic",
	},
}

// HasCapability reports whether the level grants the named capability,
// either exactly or through a wildcard grant.
func HasCapability(level AccessLevel, capability string) bool {
	for _, grant := range levelCapabilities[level] {
		if grantMatches(grant, capability) {
			return true
		}
	}
	return false
}

func grantMatches(grant, capability string) bool {
	if grant == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(grant, ".*"); ok {
		return capability == prefix || strings.HasPrefix(capability, prefix+".")
	}
	return grant == capability
}
