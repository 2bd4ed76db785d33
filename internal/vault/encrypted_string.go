package vault

import (
	"database/sql/driver"
	"fmt"
)

// EncryptedString is a string column that is transparently encrypted with
// Encrypt before being written to the database and decrypted with Decrypt
// after being read. Use it for connection URIs, the organization's Telegram
// bot token, and object-store OAuth tokens.
//
// An empty EncryptedString is stored as an empty string without encryption,
// so NULL-like absence never requires Init to have run.
type EncryptedString string

// Value implements driver.Valuer. Called by GORM before writing to the database.
func (e EncryptedString) Value() (driver.Value, error) {
	if e == "" {
		return "", nil
	}
	return Encrypt(string(e))
}

// Scan implements sql.Scanner. Called by GORM after reading from the database.
func (e *EncryptedString) Scan(value interface{}) error {
	if value == nil {
		*e = ""
		return nil
	}
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("vault: EncryptedString.Scan: expected string, got %T", value)
	}
	if str == "" {
		*e = ""
		return nil
	}
	plain, err := Decrypt(str)
	if err != nil {
		return err
	}
	*e = EncryptedString(plain)
	return nil
}
