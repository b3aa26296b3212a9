package camera

import (
	"context"
)

// maxConsecutiveFailures を超えて連続プローブが失敗したら列挙を打ち切る
// 短い欠番の先にデバイスは無いとみなすヒューリスティック
const maxConsecutiveFailures = 2

// Enumerate は利用可能なカメラインデックスを昇順で列挙する
// インデックス0からmaxProbes-1まで順にプローブ（オープン+1フレーム読み取り）し、
// 成功したインデックスだけを結果に含める。プローブ後のデバイスは
// 結果に関わらず即座に解放する
func Enumerate(ctx context.Context, opener Opener, maxProbes int) []int {
	var found []int
	failures := 0

	for i := 0; i < maxProbes; i++ {
		select {
		case <-ctx.Done():
			return found
		default:
		}

		dev := opener(i)
		_, err := dev.Open(ctx)
		dev.Release()

		if err != nil {
			failures++
			if failures >= maxConsecutiveFailures {
				break
			}
			continue
		}

		found = append(found, i)
		failures = 0
	}

	return found
}
