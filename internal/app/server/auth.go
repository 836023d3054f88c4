package server

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/crystalfall/crystalfall/internal/matchmaking"
	"github.com/golang-jwt/jwt/v5"
)

// Struct for Cognito's JWKS JSON response
type jwk struct {
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// LoadCognitoPublicKeys fetches the user pool's signing keys once at startup.
func LoadCognitoPublicKeys(url string) (map[string]*rsa.PublicKey, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to load cognito public keys: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var jwks jwks
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		// Decode Base64URL (without padding) `n` and `e`
		nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
		if err != nil {
			return nil, err
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
		if err != nil {
			return nil, err
		}

		n := new(big.Int).SetBytes(nBytes)
		e := int(new(big.Int).SetBytes(eBytes).Int64())

		keys[key.Kid] = &rsa.PublicKey{N: n, E: e}
	}
	return keys, nil
}

// Validate JWT
func (s *server) validateJWT(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("invalid token: missing kid")
		}
		if key, found := s.cognitoPublicKeys[kid]; found {
			return key, nil
		}
		return nil, errors.New("invalid token: unknown kid")
	}, jwt.WithIssuer(fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", s.config.AwsRegion, s.config.CognitoUserPoolId)))
	if err != nil {
		return nil, err
	}
	return token, nil
}

// auth validates the request credential and extracts the caller's profile
// from the token claims.
func (s *server) auth(r *http.Request) (matchmaking.Profile, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return matchmaking.Profile{}, fmt.Errorf("no authorization")
	}
	validToken, err := s.validateJWT(token)
	if err != nil || !validToken.Valid {
		return matchmaking.Profile{}, fmt.Errorf("invalid token: %w", err)
	}
	mapClaims, ok := validToken.Claims.(jwt.MapClaims)
	if !ok {
		return matchmaking.Profile{}, fmt.Errorf("invalid map claims")
	}
	return profileFromClaims(mapClaims)
}

func profileFromClaims(claims jwt.MapClaims) (matchmaking.Profile, error) {
	sub, ok := claims["sub"].(string)
	if !ok {
		return matchmaking.Profile{}, fmt.Errorf("user id not found")
	}
	profile := matchmaking.Profile{Id: sub}
	if username, ok := claims["cognito:username"].(string); ok {
		profile.Username = username
	}
	if picture, ok := claims["picture"].(string); ok {
		profile.Picture = picture
	}
	return profile, nil
}
