package token

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeClaim holds the token's granted scopes. Issuers emit the scope claim
// either as a space-delimited string or as a JSON list; both decode into the
// same set.
type ScopeClaim []string

// UnmarshalJSON implements json.Unmarshaler
func (s *ScopeClaim) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*s = ScopeClaim(strings.Fields(asString))
		return nil
	}

	var asList []string
	if err := json.Unmarshal(data, &asList); err != nil {
		return err
	}
	*s = ScopeClaim(asList)
	return nil
}

// Contains reports whether the scope set includes the given scope
func (s ScopeClaim) Contains(scope string) bool {
	for _, granted := range s {
		if granted == scope {
			return true
		}
	}
	return false
}

// Claims represents the decoded JWT payload. Ephemeral: never persisted.
// Beyond signature, issuer, and audience verification nothing in here is
// trusted for identity; AgentID in particular is only ever used as a
// consistency cross-check against the identity resolver's output.
type Claims struct {
	jwt.RegisteredClaims
	OrgID   string     `json:"org_id"`
	EnvID   string     `json:"env_id"`
	Scope   ScopeClaim `json:"scope"`
	AgentID string     `json:"agent_id,omitempty"`
}

// JTI returns the token's unique identifier, empty when absent
func (c *Claims) JTI() string {
	return c.ID
}
