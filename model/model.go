package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// Actor identifies who is calling into the engine. Authorization decisions are made
// against the actor passed explicitly to each operation.
type Actor struct {
	Wallet string `json:"wallet,omitempty"`
	System bool   `json:"system,omitempty"`
}

// WalletActor returns an actor for an authenticated wallet session.
func WalletActor(wallet string) Actor {
	return Actor{Wallet: wallet}
}

// SystemActor is used by the scheduler and background workers.
func SystemActor() Actor {
	return Actor{System: true}
}

// CanAdminister reports whether the actor may act on behalf of an organization
// administered by adminWallet.
func (a Actor) CanAdminister(adminWallet string) bool {
	if a.System {
		return true
	}
	return a.Wallet != "" && a.Wallet == adminWallet
}

func (a Actor) String() string {
	if a.System {
		return "system"
	}
	return a.Wallet
}
