package state

import "github.com/google/uuid"

// addressNamespace roots every derived record address. Changing it re-keys
// all persisted records.
var addressNamespace = uuid.MustParse("6f1c2a0e-4b8d-5e3a-9c71-2d4f8e0b6a13")

// GovernanceAddress is the fixed address of the singleton governance record.
func GovernanceAddress() uuid.UUID {
	return uuid.NewSHA1(addressNamespace, []byte("governance"))
}

// PositionAddress derives the position record address for an owner.
// The same owner always maps to the same address.
func PositionAddress(owner uuid.UUID) uuid.UUID {
	seed := make([]byte, 0, len("position:")+16)
	seed = append(seed, "position:"...)
	seed = append(seed, owner[:]...)
	return uuid.NewSHA1(addressNamespace, seed)
}
