package auth

import "github.com/crystalfall/crystalfall/internal/matchmaking"

// MustAuth extracts the caller's profile from an API Gateway JWT authorizer
// payload. Panics on a malformed payload so the lambda surfaces a 500 instead
// of acting on a bogus identity.
func MustAuth(authorizer map[string]interface{}) matchmaking.Profile {
	jwt, ok := authorizer["jwt"].(map[string]interface{})
	if !ok {
		panic("no jwt")
	}
	v, exists := jwt["claims"]
	if !exists {
		panic("no authorizer claims")
	}
	claims, ok := v.(map[string]interface{})
	if !ok {
		panic("claims must be of type map")
	}
	userId, ok := claims["sub"].(string)
	if !ok {
		panic("invalid sub")
	}
	profile := matchmaking.Profile{Id: userId}
	if username, ok := claims["cognito:username"].(string); ok {
		profile.Username = username
	}
	if picture, ok := claims["picture"].(string); ok {
		profile.Picture = picture
	}
	return profile
}
