package ticket

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator は新しい予約IDを返します
// 返すIDは英数字とハイフンだけで構成されなければなりません
type IDGenerator func() (string, error)

// RandomIDs はランダムなUUIDの先頭48bitから "R-9F8A21C03B4D" 形式のIDを作ります
// 衝突した場合は Issuer が別のIDで再試行します
func RandomIDs() IDGenerator {
	return func() (string, error) {
		u, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("failed to generate reservation id: %w", err)
		}
		return "R-" + strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:12]), nil
	}
}

// SequentialIDs は start から始まる連番のIDを返します
// 単一プロセスのローカル環境やテストで使います
func SequentialIDs(start int64) IDGenerator {
	var next atomic.Int64
	next.Store(start)
	return func() (string, error) {
		return fmt.Sprintf("R-%d", next.Add(1)-1), nil
	}
}
