package timelapse

import (
	"fmt"
	"math"
)

// FormatDuration は秒数を "mm:ss" または時間を含む場合 "hh:mm:ss" に変換する
// 負の値は0に切り詰め、小数は四捨五入する
func FormatDuration(seconds float64) string {
	s := int(math.Round(seconds))
	if s < 0 {
		s = 0
	}

	hh := s / 3600
	mm := (s % 3600) / 60
	ss := s % 60

	if hh > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
	}
	return fmt.Sprintf("%02d:%02d", mm, ss)
}
