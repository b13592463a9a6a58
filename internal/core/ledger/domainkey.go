package ledger

import (
	"fmt"

	"github.com/fnyamweya/caricash-nova-sub003/internal/core/amount"
)

// Domain keys partition posting into serialized single-writer actors. Every
// account written by one journal must share (or be subordinated to) one key;
// cross-wallet transfers route through a clearing account owned by that key.

// SingletonKey serializes cross-wallet administrative operations.
const SingletonKey = "singleton"

// WalletKey is the canonical key for wallet-scoped transactions.
func WalletKey(owner OwnerType, ownerID string, cur amount.Currency) string {
	return fmt.Sprintf("wallet:%s:%s:%s", owner, ownerID, cur)
}

// OpsKey is the canonical key for treasury and suspense operations.
func OpsKey(purpose string, cur amount.Currency) string {
	return fmt.Sprintf("ops:%s:%s", purpose, cur)
}
