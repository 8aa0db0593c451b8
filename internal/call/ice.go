package call

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/studyhive/studyhive-cli/internal/api"
)

// ICEDiscovery is the slice of the API client the call setup needs.
type ICEDiscovery interface {
	ICEServers(ctx context.Context) ([]api.ICEServer, error)
}

// FetchICEConfig resolves the ICE server list for a session. A failed or
// empty discovery response falls back to the public STUN default: a
// missing TURN deployment must never block a call.
func FetchICEConfig(ctx context.Context, discovery ICEDiscovery, fallbackSTUN string, logger *slog.Logger) []webrtc.ICEServer {
	servers, err := discovery.ICEServers(ctx)
	if err != nil || len(servers) == 0 {
		if err != nil {
			logger.Warn("ICE discovery failed, using fallback STUN", "error", err)
		}
		return []webrtc.ICEServer{{URLs: []string{fallbackSTUN}}}
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
