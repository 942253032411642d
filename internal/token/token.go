/*
PURPOSE:
  Mints LiveKit access tokens for the benchmark driver, the reference agent
  and the `token` CLI command.

REQUIREMENTS:
  User-specified:
  - Join grant for one room, a distinguishable identity and display name.

  Implementation-discovered:
  - Uses livekit/protocol/auth so the claims match what the server expects.

ARCHITECTURE INTEGRATION:
  - Called by: internal/driver, internal/cli, cmd/mock-agent
  - Uses: github.com/livekit/protocol/auth

ERROR HANDLING:
  - Missing key/secret/room/identity is an error before signing.

IMPLEMENTATION RULES:
  - None.

USAGE:
  jwt, err := token.New(cfg.LiveKit, "bench_driver", time.Hour)

SELF-HEALING INSTRUCTIONS:
  - "invalid token" from the server usually means key/secret mismatch with
    the server's keys file.

RELATED FILES:
  - internal/config/config.go

MAINTENANCE:
  - None.
*/

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/daryltucker/voicebench/internal/config"
)

// DefaultTTL is the validity of tokens minted for a benchmark run.
const DefaultTTL = time.Hour

// New signs a room-join token for identity. An empty identity falls back to
// lk.Identity; ttl <= 0 means DefaultTTL.
func New(lk config.LiveKit, identity string, ttl time.Duration) (string, error) {
	if lk.APIKey == "" || lk.APISecret == "" {
		return "", errors.New("livekit api key/secret required")
	}
	if lk.Room == "" {
		return "", errors.New("livekit room required")
	}
	if identity == "" {
		identity = lk.Identity
	}
	if identity == "" {
		return "", errors.New("participant identity required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	name := lk.Name
	if name == "" || identity != lk.Identity {
		name = identity
	}

	at := auth.NewAccessToken(lk.APIKey, lk.APISecret).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(ttl).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin: true,
			Room:     lk.Room,
		})

	jwt, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return jwt, nil
}
