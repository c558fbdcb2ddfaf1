package wsgateway

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/vovakirdan/presencebridge/internal/voice"
)

// AccessToken signs a LiveKit-format token for gateways that authenticate
// with API key/secret pairs instead of account passwords.
func AccessToken(apiKey, apiSecret string, creds voice.Credentials, ttl time.Duration) (string, error) {
	name := creds.Nickname
	if name == "" {
		name = creds.Username
	}

	at := auth.NewAccessToken(apiKey, apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		RoomList: true,
	}
	at.SetVideoGrant(grant).
		SetIdentity(creds.Username).
		SetName(name).
		SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}
