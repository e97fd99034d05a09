package utils

import (
	"fmt"
	"runtime/debug"
)

// GetStackWithError は、エラーに呼び出し時点のスタックトレースを付けて返します
// 元のエラーは errors.Is / errors.As でそのまま判定できます
func GetStackWithError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w\nStack trace:\n%s", err, debug.Stack())
}
