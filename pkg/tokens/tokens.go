// pkg/tokens/tokens.go
package tokens

import "time"

// Audience names the consumer a token was minted for. Verification is
// strict: a token presented to the wrong surface fails even when its
// signature is valid.
type Audience string

const (
	AudienceTenantAdmin     Audience = "tenant-admin"
	AudienceTenantMember    Audience = "tenant-member"
	AudienceInternalService Audience = "internal-service"
)

const (
	RoleTenantAdmin   = "tenant_admin"
	RoleAdmin         = "admin"
	RoleMember        = "member"
	RolePlatformAdmin = "platform_admin"
	RoleService       = "service"
)

// Rejection reasons, recorded in audit logs. Response bodies never carry
// these; callers see a generic unauthorized.
const (
	ReasonMalformed     = "malformed"
	ReasonBadSignature  = "bad_signature"
	ReasonBadIssuer     = "bad_issuer"
	ReasonExpired       = "expired"
	ReasonNotYetValid   = "not_yet_valid"
	ReasonWrongAudience = "wrong_audience"
	ReasonRevoked       = "revoked"
)

// Identity is the verified view of a token. TenantID is empty for
// platform operators and service callers.
type Identity struct {
	Subject   string
	TenantID  string
	Audience  Audience
	Roles     []string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Platform reports whether the identity operates across tenants.
func (id Identity) Platform() bool { return id.HasRole(RolePlatformAdmin) }
