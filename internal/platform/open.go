// Package platform はOS依存の補助機能を提供する
package platform

import (
	"os"
	"os/exec"
	"runtime"
)

// OpenFolder は指定ディレクトリをOS標準のファイルブラウザで開く
// ベストエフォートの操作であり、失敗しても呼び出し側には何も報告しない
// （no-throw契約。結果は常に無視される）
func OpenFolder(dir string) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", dir)
	case "darwin":
		cmd = exec.Command("open", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}

	// 失敗してもフォルダが開かないだけでクリティカルではない
	_ = cmd.Start()
}
