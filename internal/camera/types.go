package camera

import (
	"context"
)

// Device は1台のカメラデバイスへのハンドルを表す
type Device interface {
	// Open はデバイスを開く
	// 生存確認として1フレームの読み取りを行い、読めたフレームを返す
	Open(ctx context.Context) ([]byte, error)

	// Read は最新のフレームを1枚読み取り、JPEGデータとして返す
	Read(ctx context.Context) ([]byte, error)

	// Release はデバイスを解放する
	// 解放済みのデバイスに対して呼んでも安全（no-op）
	Release()
}

// Opener はデバイスインデックスから未オープンのDeviceを作る
type Opener func(index int) Device
