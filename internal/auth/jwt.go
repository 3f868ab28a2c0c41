package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"semaphore/provisioning/internal/policy"
)

// Claims mirrors the custom role claims carried by identity tokens. Admin is the
// legacy name of the top role and is read as SuperAdmin.
type Claims struct {
	Email       string `json:"email,omitempty"`
	SuperAdmin  bool   `json:"superAdmin,omitempty"`
	Admin       bool   `json:"admin,omitempty"`
	SchoolAdmin bool   `json:"schoolAdmin,omitempty"`
	Teacher     bool   `json:"teacher,omitempty"`
	Parent      bool   `json:"parent,omitempty"`
	Student     bool   `json:"student,omitempty"`
	jwt.RegisteredClaims
}

// ClaimsFor sets the boolean claim matching each role.
func ClaimsFor(uid string, roles ...policy.Role) Claims {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uid}}
	for _, role := range roles {
		switch role {
		case policy.RoleSuperAdmin:
			claims.SuperAdmin = true
		case policy.RoleSchoolAdmin:
			claims.SchoolAdmin = true
		case policy.RoleTeacher:
			claims.Teacher = true
		case policy.RoleParent:
			claims.Parent = true
		case policy.RoleStudent:
			claims.Student = true
		}
	}
	return claims
}

// Caller converts verified claims into the identity the policy evaluates.
func (c *Claims) Caller() policy.Caller {
	if c == nil || c.Subject == "" {
		return policy.Caller{}
	}
	held := map[policy.Role]bool{}
	set := func(role policy.Role, ok bool) {
		if ok {
			held[role] = true
		}
	}
	set(policy.RoleSuperAdmin, c.SuperAdmin || c.Admin)
	set(policy.RoleSchoolAdmin, c.SchoolAdmin)
	set(policy.RoleTeacher, c.Teacher)
	set(policy.RoleParent, c.Parent)
	set(policy.RoleStudent, c.Student)
	return policy.Caller{Authenticated: true, UID: c.Subject, Claims: held}
}

// Verifier checks identity tokens signed either with an RSA key (RS256) or a shared
// secret (HS256). The RSA key wins when both are configured.
type Verifier struct {
	publicKey *rsa.PublicKey
	secret    []byte
	issuer    string
}

func NewVerifier(publicKeyPEM, secret, issuer string) (*Verifier, error) {
	v := &Verifier{issuer: issuer}
	if publicKeyPEM != "" {
		key, err := ParseRSAPublicKey(publicKeyPEM)
		if err != nil {
			return nil, err
		}
		v.publicKey = key
		return v, nil
	}
	if secret == "" {
		return nil, errors.New("missing_verification_key")
	}
	v.secret = []byte(secret)
	return v, nil
}

func (v *Verifier) ParseToken(tokenString string) (*Claims, error) {
	method := jwt.SigningMethodHS256.Alg()
	if v.publicKey != nil {
		method = jwt.SigningMethodRS256.Alg()
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if v.publicKey != nil {
			return v.publicKey, nil
		}
		return v.secret, nil
	}, options...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenRequiredClaimMissing
	}
	return claims, nil
}

// NewToken signs claims with a shared secret. It backs local tooling and tests;
// production tokens come from the identity provider.
func NewToken(secret, issuer string, ttl time.Duration, claims Claims) (string, error) {
	now := time.Now().UTC()
	claims.Issuer = issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid_public_key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		publicKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("invalid_public_key_type")
		}
		return publicKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, errors.New("invalid_public_key")
	}
}
