// Package payload はQRコードに埋め込むチケット文字列の組み立てと解析を行います。
//
// ペイロードは "<予約ID>.<署名>" の形式です。予約IDは英数字とハイフン、
// 署名は小文字の16進数のみで構成されるため、区切り文字の "." が
// どちらにも現れることはありません。ストアへのアクセスや副作用はありません。
package payload

import (
	"fmt"
	"strings"

	"github.com/uma-arai/sbcntr-ticket/internal/model"
)

const (
	// Separator は予約IDと署名の区切り文字です
	Separator = "."
	// MaxLength は通常の印刷サイズで読み取れるQRシンボルに収まる上限です
	MaxLength = 120
	// MaxSignatureLength はHMAC-SHA256の16進表現の長さです
	MaxSignatureLength = 64
)

// Encode は予約からペイロード文字列を作成します
func Encode(r model.Reservation) string {
	return r.ID + Separator + r.Signature
}

// Decode はペイロード文字列を予約IDと署名に分解します
// 構造が不正な場合は model.ErrMalformedPayload を返します
func Decode(s string) (id, signature string, err error) {
	id, signature, err = Split(s)
	if err != nil {
		return "", "", err
	}
	if !validSignature(signature) {
		return "", "", fmt.Errorf("%w: bad signature", model.ErrMalformedPayload)
	}
	return id, signature, nil
}

// Split はペイロードの外形と予約IDだけを確認して分解します
// 署名部は空でないことだけを確認し、文字種や長さは見ません。
// 署名の内容を照合する側で、書式の崩れた署名も不一致として扱うために使います
func Split(s string) (id, signature string, err error) {
	if s == "" {
		return "", "", fmt.Errorf("%w: empty payload", model.ErrMalformedPayload)
	}
	if len(s) > MaxLength {
		return "", "", fmt.Errorf("%w: length %d exceeds %d", model.ErrMalformedPayload, len(s), MaxLength)
	}
	if strings.Count(s, Separator) != 1 {
		return "", "", fmt.Errorf("%w: expected exactly one separator", model.ErrMalformedPayload)
	}

	id, signature, _ = strings.Cut(s, Separator)
	if !ValidID(id) {
		return "", "", fmt.Errorf("%w: bad reservation id", model.ErrMalformedPayload)
	}
	if signature == "" {
		return "", "", fmt.Errorf("%w: empty signature", model.ErrMalformedPayload)
	}
	return id, signature, nil
}

// ValidID は予約IDに使える文字だけで構成されているかを返します
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

func validSignature(sig string) bool {
	if len(sig) < 2 || len(sig) > MaxSignatureLength || len(sig)%2 != 0 {
		return false
	}
	for i := 0; i < len(sig); i++ {
		c := sig[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
