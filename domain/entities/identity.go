package entities

import (
	"strconv"
	"time"
)

// TelegramHandlePrefix prefixes identity ids derived from a Telegram user id
const TelegramHandlePrefix = "tg_"

// Identity is a participant known to the game. It is never deleted.
type Identity struct {
	ID             string    `db:"id"`
	Username       string    `db:"username"`
	WalletAddress  *string   `db:"wallet_address"`  // NULL until a link is verified
	PlatformHandle *string   `db:"platform_handle"` // external messaging platform user id
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// HasWallet returns true if the identity has a verified wallet
func (i *Identity) HasWallet() bool {
	return i.WalletAddress != nil && *i.WalletAddress != ""
}

// Wallet returns the linked wallet address or an empty string
func (i *Identity) Wallet() string {
	if i.WalletAddress == nil {
		return ""
	}
	return *i.WalletAddress
}

// TelegramIdentityID returns the identity id used for a Telegram user
func TelegramIdentityID(telegramUserID int64) string {
	return TelegramHandlePrefix + strconv.FormatInt(telegramUserID, 10)
}
