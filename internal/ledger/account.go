package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeVault  AccountSubType = iota // collateral locked behind a position
	SubTypeWallet                       // freely held tokens (stablecoin, seized collateral)

	// System sub-types
	SubTypeSystemIssuance // contra account for every stablecoin in circulation
	SubTypeSystemTreasury // mint fees

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetCollateral AssetID = 1
	AssetStablecoin AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"COLL": AssetCollateral,
		"STBL": AssetStablecoin,
	}
	idToAsset = map[AssetID]string{
		AssetCollateral: "COLL",
		AssetStablecoin: "STBL",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, zero for system and external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// VaultKey is the collateral vault behind owner's position.
func VaultKey(owner uuid.UUID) AccountKey {
	return NewUserAccountKey(owner, SubTypeVault, AssetCollateral)
}

// WalletKey is owner's free balance of asset.
func WalletKey(owner uuid.UUID, assetID AssetID) AccountKey {
	return NewUserAccountKey(owner, SubTypeWallet, assetID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.SubType.String(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.SubType.String(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType.String(), assetName)
	}
	return "unknown"
}

func (st AccountSubType) String() string {
	switch st {
	case SubTypeVault:
		return "vault"
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemIssuance:
		return "issuance"
	case SubTypeSystemTreasury:
		return "treasury"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

var subTypeByName = map[string]AccountSubType{
	"vault":       SubTypeVault,
	"wallet":      SubTypeWallet,
	"issuance":    SubTypeSystemIssuance,
	"treasury":    SubTypeSystemTreasury,
	"deposits":    SubTypeExternalDeposits,
	"withdrawals": SubTypeExternalWithdrawals,
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	lookup := func(subType, asset string) (AccountSubType, AssetID, error) {
		st, ok := subTypeByName[subType]
		if !ok {
			return 0, 0, fmt.Errorf("unknown account sub-type %q in %q", subType, path)
		}
		id, ok := GetAssetID(asset)
		if !ok {
			return 0, 0, fmt.Errorf("unknown asset %q in %q", asset, path)
		}
		return st, id, nil
	}

	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("bad user id in %q: %w", path, err)
		}
		st, id, err := lookup(parts[2], parts[3])
		if err != nil {
			return AccountKey{}, err
		}
		return NewUserAccountKey(uid, st, id), nil
	case len(parts) == 3 && parts[0] == "system":
		st, id, err := lookup(parts[1], parts[2])
		if err != nil {
			return AccountKey{}, err
		}
		return NewSystemAccountKey(st, id), nil
	case len(parts) == 3 && parts[0] == "external":
		st, id, err := lookup(parts[1], parts[2])
		if err != nil {
			return AccountKey{}, err
		}
		return NewExternalAccountKey(st, id), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}
