// pkg/tokens/issuer.go
package tokens

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Issuer mints HS256 tokens for the three audiences. TTLs per audience
// come from config; any requested TTL above MaxTTL is clamped, never
// rejected.
type Issuer struct {
	secret      []byte
	issuer      string
	clock       clock.Clock
	adminTTL    time.Duration
	memberTTL   time.Duration
	internalTTL time.Duration
	maxTTL      time.Duration
}

type IssuerConfig struct {
	Secret      []byte
	Issuer      string
	AdminTTL    time.Duration
	MemberTTL   time.Duration
	InternalTTL time.Duration
	MaxTTL      time.Duration
	Clock       clock.Clock
}

func NewIssuer(cfg IssuerConfig) *Issuer {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	return &Issuer{
		secret:      cfg.Secret,
		issuer:      cfg.Issuer,
		clock:       c,
		adminTTL:    cfg.AdminTTL,
		memberTTL:   cfg.MemberTTL,
		internalTTL: cfg.InternalTTL,
		maxTTL:      cfg.MaxTTL,
	}
}

// Claims describes a token to mint. TTL zero picks the audience default.
type Claims struct {
	Subject  string
	TenantID string
	Audience Audience
	Roles    []string
	TTL      time.Duration
}

// Issue signs a token and returns it with the identity it encodes.
func (i *Issuer) Issue(c Claims) (string, Identity, error) {
	ttl := c.TTL
	if ttl <= 0 {
		switch c.Audience {
		case AudienceTenantAdmin:
			ttl = i.adminTTL
		case AudienceTenantMember:
			ttl = i.memberTTL
		case AudienceInternalService:
			ttl = i.internalTTL
		default:
			return "", Identity{}, fmt.Errorf("issue: unknown audience %q", c.Audience)
		}
	}
	if i.maxTTL > 0 && ttl > i.maxTTL {
		ttl = i.maxTTL
	}

	now := i.clock.Now().UTC()
	jti := uuid.NewString()
	b := jwt.NewBuilder().
		Issuer(i.issuer).
		Subject(c.Subject).
		Audience([]string{string(c.Audience)}).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		JwtID(jti).
		Claim("roles", c.Roles)
	if c.TenantID != "" {
		b = b.Claim("tid", c.TenantID)
	}
	tok, err := b.Build()
	if err != nil {
		return "", Identity{}, fmt.Errorf("issue: build: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.secret))
	if err != nil {
		return "", Identity{}, fmt.Errorf("issue: sign: %w", err)
	}
	return string(signed), Identity{
		Subject:   c.Subject,
		TenantID:  c.TenantID,
		Audience:  c.Audience,
		Roles:     c.Roles,
		JTI:       jti,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// TenantAdmin mints the token returned from signup and admin session refresh.
func (i *Issuer) TenantAdmin(tenantID, subject string) (string, Identity, error) {
	return i.Issue(Claims{
		Subject:  subject,
		TenantID: tenantID,
		Audience: AudienceTenantAdmin,
		Roles:    []string{RoleTenantAdmin, RoleAdmin},
	})
}

func (i *Issuer) TenantMember(tenantID, subject string) (string, Identity, error) {
	return i.Issue(Claims{
		Subject:  subject,
		TenantID: tenantID,
		Audience: AudienceTenantMember,
		Roles:    []string{RoleMember},
	})
}

// PlatformAdmin mints a cross-tenant operator token. No tid claim.
func (i *Issuer) PlatformAdmin(subject string) (string, Identity, error) {
	return i.Issue(Claims{
		Subject:  subject,
		Audience: AudienceTenantAdmin,
		Roles:    []string{RolePlatformAdmin, RoleAdmin},
	})
}

// InternalService mints a short-lived single-use token for
// service-to-service calls. The jti doubles as the replay key.
func (i *Issuer) InternalService(caller string) (string, Identity, error) {
	return i.Issue(Claims{
		Subject:  caller,
		Audience: AudienceInternalService,
		Roles:    []string{RoleService},
	})
}
