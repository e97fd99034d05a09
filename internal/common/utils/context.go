package utils

import (
	"context"
	"fmt"
	"time"
)

// RunWithTimeout は fn をタイムアウト付きで実行します
// タイムアウトした場合や親のコンテキストが終了した場合は fn の完了を待たずに戻ります。
// 戻り値のエラーは errors.Is で context.DeadlineExceeded か context.Canceled を判定できます
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return fmt.Errorf("process stopped after %v: %w", timeout, ctx.Err())
	}
}
