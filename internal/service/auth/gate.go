// Package auth は管理者操作の認証を行います。
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/uma-arai/sbcntr-ticket/internal/common/config"
)

// Gate は起動時に読み込んだ管理者の認証情報と照合します
// リクエストごとの状態は持ちません
type Gate struct {
	username [sha256.Size]byte
	password [sha256.Size]byte
	bcrypt   []byte
}

// NewGate は設定から Gate を作成します
func NewGate(cfg config.AdminConfig) (*Gate, error) {
	if cfg.Username == "" {
		return nil, errors.New("admin username is empty")
	}

	g := &Gate{username: sha256.Sum256([]byte(cfg.Username))}
	switch {
	case cfg.PasswordBcrypt != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordBcrypt)); err != nil {
			return nil, err
		}
		g.bcrypt = []byte(cfg.PasswordBcrypt)
	case cfg.Password != "":
		g.password = sha256.Sum256([]byte(cfg.Password))
	default:
		return nil, errors.New("admin password is empty")
	}
	return g, nil
}

// Authenticate は認証情報が設定と完全に一致する場合のみ true を返します
// 固定長のダイジェストを比較するため、一致する先頭文字数によって処理時間は変わりません。
// ユーザー名とパスワードは常に両方とも評価します。
func (g *Gate) Authenticate(username, password string) bool {
	u := sha256.Sum256([]byte(username))
	userOK := subtle.ConstantTimeCompare(u[:], g.username[:])

	var passOK int
	if g.bcrypt != nil {
		if bcrypt.CompareHashAndPassword(g.bcrypt, []byte(password)) == nil {
			passOK = 1
		}
	} else {
		p := sha256.Sum256([]byte(password))
		passOK = subtle.ConstantTimeCompare(p[:], g.password[:])
	}

	return userOK&passOK == 1
}
