package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Handshake message type discriminators.
const (
	TypeHandshake         = "protocolHandshake"
	TypeHandshakeResponse = "protocolHandshakeResponse"
)

type (
	// HandshakeRequest opens version negotiation. The requester advertises
	// the newest version it speaks and the oldest it still accepts.
	HandshakeRequest struct {
		Type       string    `json:"type"`
		ID         string    `json:"id"`
		Version    int       `json:"version"`
		MinVersion int       `json:"minVersion"`
		ClientType string    `json:"clientType"`
		Timestamp  time.Time `json:"timestamp"`
	}

	// HandshakeResponse answers a request. NegotiatedVersion is nil when the
	// two sides share no common version.
	HandshakeResponse struct {
		Type              string `json:"type"`
		ID                string `json:"id"`
		Version           int    `json:"version"`
		MinVersion        int    `json:"minVersion"`
		Compatible        bool   `json:"compatible"`
		NegotiatedVersion *int   `json:"negotiatedVersion"`
		ServerType        string `json:"serverType"`
	}
)

// CreateHandshakeRequest builds the negotiation request for this side.
func (p *Protocol) CreateHandshakeRequest() HandshakeRequest {
	return HandshakeRequest{
		Type:       TypeHandshake,
		ID:         uuid.NewString(),
		Version:    p.current,
		MinVersion: p.minSupported,
		ClientType: p.peerType,
		Timestamp:  time.Now().UTC(),
	}
}

// CreateHandshakeResponse answers a peer's negotiation request. The exchange
// is compatible when the version windows overlap:
//
//	max(req.minVersion, minSupported) <= min(req.version, current)
//
// On compatibility the negotiated version is the lower of the two current
// versions and is stored on this instance; later handshakes may renegotiate.
// On incompatibility the stored negotiation state is left untouched.
func (p *Protocol) CreateHandshakeResponse(req HandshakeRequest) HandshakeResponse {
	resp := HandshakeResponse{
		Type:       TypeHandshakeResponse,
		ID:         req.ID,
		Version:    p.current,
		MinVersion: p.minSupported,
		ServerType: p.peerType,
	}
	low := req.MinVersion
	if p.minSupported > low {
		low = p.minSupported
	}
	high := req.Version
	if p.current < high {
		high = p.current
	}
	if low > high {
		resp.Compatible = false
		return resp
	}
	negotiated := high
	resp.Compatible = true
	resp.NegotiatedVersion = &negotiated
	p.mu.Lock()
	p.negotiated = &negotiated
	p.mu.Unlock()
	return resp
}

// NegotiatedVersion returns the version set by the most recent successful
// handshake, or false when none succeeded yet.
func (p *Protocol) NegotiatedVersion() (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.negotiated == nil {
		return 0, false
	}
	return *p.negotiated, true
}
