package ticket

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// Signer は予約IDに対する署名をHMAC-SHA256で計算します
type Signer struct {
	secret []byte
}

// NewSigner は署名鍵から Signer を作成します
// 鍵はコピーして保持するため、呼び出し側で書き換えても影響しません
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is empty")
	}
	return &Signer{secret: append([]byte(nil), secret...)}, nil
}

// Sign は予約IDの署名を小文字の16進数で返します
func (s *Signer) Sign(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify は提示された署名が予約IDの署名と一致するかを定数時間で比較します
func (s *Signer) Verify(id, signature string) bool {
	expected := s.Sign(id)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
