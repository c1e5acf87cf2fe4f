package jwt

// roleAccess mirrors the shape Keycloak uses for role grants, both at realm
// scope (realm_access) and per client (resource_access values).
type roleAccess struct {
	Roles []string `json:"roles,omitempty"`
}

type privateClaims struct {
	AuthorizedParty   string                `json:"azp,omitempty"`
	PreferredUsername string                `json:"preferred_username,omitempty"`
	Username          string                `json:"username,omitempty"`
	RealmAccess       roleAccess            `json:"realm_access,omitempty"`
	ResourceAccess    map[string]roleAccess `json:"resource_access,omitempty"`
}

// displayName picks the name reported for the principal, in the order the
// provider usually fills the claims.
func (c *privateClaims) displayName() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	if c.Username != "" {
		return c.Username
	}
	return "unknown"
}

// resolveRoles applies the role precedence rule: roles scoped to the
// configured client win; realm roles apply only when those are absent and
// fallback is enabled.
func (c *privateClaims) resolveRoles(roleClientID string, fallbackRealmRoles bool) []string {
	if access, ok := c.ResourceAccess[roleClientID]; ok && len(access.Roles) > 0 {
		return access.Roles
	}
	if fallbackRealmRoles {
		return c.RealmAccess.Roles
	}
	return nil
}
