package jwt

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("jwt: invalid token")

type key struct {
	kid string
	pub crypto.PublicKey
}

// Validator verifies RS/ES/EdDSA signed bearer tokens against a fixed set
// of public keys.
type Validator struct {
	keys     []key
	iss, aud string
}

// NewValidator loads PEM files holding either certificates or PKIX public
// keys. The key id is the certificate CN, or the file name without
// extension for bare keys. No paths means no validator.
func NewValidator(pubPemPaths []string, issuer, audience string) (*Validator, error) {
	if len(pubPemPaths) == 0 {
		return nil, nil
	}
	var keys []key
	for _, p := range pubPemPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		block, _ := pem.Decode(b)
		if block == nil {
			return nil, fmt.Errorf("jwt: %s: invalid pem", p)
		}
		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("jwt: %s: %w", p, err)
			}
			keys = append(keys, key{kid: c.Subject.CommonName, pub: c.PublicKey})
		case "PUBLIC KEY":
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("jwt: %s: %w", p, err)
			}
			kid := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
			keys = append(keys, key{kid: kid, pub: pub})
		default:
			return nil, fmt.Errorf("jwt: %s: unsupported pem block %q", p, block.Type)
		}
	}
	return &Validator{keys: keys, iss: issuer, aud: audience}, nil
}

// Verify parses tokenStr and checks signature, expiry, issuer and audience.
func (v *Validator) Verify(tokenStr string) (jwt.MapClaims, error) {
	var opts []jwt.ParserOption
	opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA"}))
	if v.iss != "" {
		opts = append(opts, jwt.WithIssuer(v.iss))
	}
	if v.aud != "" {
		opts = append(opts, jwt.WithAudience(v.aud))
	}

	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		for _, k := range v.keys {
			if k.kid == kid {
				return k.pub, nil
			}
		}
		return v.keys[0].pub, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, _ := tok.Claims.(jwt.MapClaims)
	return claims, nil
}
