package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketClaims is the connection ticket payload. The session token rides
// inside so ticket authentication still funnels through the store's token
// validation; the ticket is a bearer credential of the same sensitivity as
// the token it wraps.
type TicketClaims struct {
	AdventureID  string `json:"adv"`
	SessionToken string `json:"tok"`
	jwt.RegisteredClaims
}

// TicketManager issues and verifies short-lived connection tickets. A ticket
// lets a client open a session socket without re-sending the raw session
// token on every handshake.
type TicketManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration
}

// NewTicketManager creates a ticket manager from the master secret.
func NewTicketManager(masterSecret string, ttl time.Duration) (*TicketManager, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	// Derive Ed25519 key from master secret
	seed := sha256.Sum256([]byte(masterSecret))
	privateKey := ed25519.NewKeyFromSeed(seed[:])
	publicKey := privateKey.Public().(ed25519.PublicKey)

	return &TicketManager{
		privateKey: privateKey,
		publicKey:  publicKey,
		ttl:        ttl,
	}, nil
}

// TTL returns the lifetime of issued tickets.
func (m *TicketManager) TTL() time.Duration { return m.ttl }

// CreateTicket creates a signed connection ticket for an adventure.
func (m *TicketManager) CreateTicket(adventureID, sessionToken string) (string, error) {
	now := time.Now()
	claims := TicketClaims{
		AdventureID:  adventureID,
		SessionToken: sessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Issuer:    "reverie-server",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(m.privateKey)
}

// VerifyTicket verifies and parses a connection ticket.
func (m *TicketManager) VerifyTicket(ticket string) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse ticket: %w", err)
	}

	if claims, ok := token.Claims.(*TicketClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid ticket")
}
