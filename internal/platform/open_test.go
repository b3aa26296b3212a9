package platform

import (
	"testing"
)

// TestOpenFolderBestEffort は不正な入力でもpanicしないことをテストする
func TestOpenFolderBestEffort(t *testing.T) {
	// 空文字列は何もしない
	OpenFolder("")

	// 存在しないパスも何もしない
	OpenFolder("/nonexistent/komadori-test-path")

	// ディレクトリではないパスも何もしない
	OpenFolder("/etc/hostname")
}
