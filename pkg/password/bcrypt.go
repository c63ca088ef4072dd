package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxBytes bcrypt 只接受 72 字节以内的密码，按字节而不是字符计算
const MaxBytes = 72

// TooLong 超过 bcrypt 上限的密码无法哈希
func TooLong(plain string) bool {
	return len(plain) > MaxBytes
}

// Hash bcrypt 加盐哈希
func Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

func Compare(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
