package utils

import (
	"context"
	"log"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// BeginSubsegment はX-Rayのサブセグメントを開始し、終了用の関数を返します
// 親セグメントがない場合は何もしない関数を返すため、トレース無効時でもそのまま使えます
func BeginSubsegment(ctx context.Context, name string) (context.Context, func(error)) {
	subCtx, seg := xray.BeginSubsegment(ctx, name)
	if seg == nil {
		return ctx, func(error) {}
	}
	return subCtx, seg.Close
}

// AddMetadata は現在のセグメントにメタデータを追加します
// 追加に失敗しても処理は止めず、ログに残します
func AddMetadata(ctx context.Context, key string, value interface{}) {
	if seg := xray.GetSegment(ctx); seg != nil {
		addMetadata(seg, key, value)
	}
}

type metadataAdder interface {
	AddMetadata(key string, value interface{}) error
}

func addMetadata(seg metadataAdder, key string, value interface{}) {
	if err := seg.AddMetadata(key, value); err != nil {
		log.Printf("Failed to add %s metadata: %v", key, err)
	}
}
