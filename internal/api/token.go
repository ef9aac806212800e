package api

import (
	"time"

	"github.com/google/uuid"
)

// tokenRequest is a fixed-shape stand-in for the real TokenRequest API:
// this system only ever issues opaque bearer-like tokens, so nothing
// here verifies the token it hands back.
type tokenRequest struct {
	Kind   string `json:"kind"`
	Status struct {
		Token               string    `json:"token"`
		ExpirationTimestamp time.Time `json:"expirationTimestamp"`
	} `json:"status"`
}

func newTokenRequest() tokenRequest {
	tr := tokenRequest{Kind: "TokenRequest"}
	tr.Status.Token = uuid.NewString()
	tr.Status.ExpirationTimestamp = time.Now().Add(time.Hour).UTC()
	return tr
}
