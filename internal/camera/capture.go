package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// openTimeout はオープン時の生存確認キャプチャのタイムアウト
const openTimeout = 10 * time.Second

// V4L2Device はffmpeg経由でV4L2デバイスから画像を取得するDevice実装
// 永続的なデバイスハンドルは持たず、読み取りごとに1フレームをキャプチャする
type V4L2Device struct {
	devicePath string
	width      int
	height     int

	mu     sync.Mutex
	opened bool
}

// NewV4L2Device は新しいV4L2Deviceを作成する
// インデックスiは /dev/video<i> に対応する
func NewV4L2Device(index, width, height int) *V4L2Device {
	return &V4L2Device{
		devicePath: fmt.Sprintf("/dev/video%d", index),
		width:      width,
		height:     height,
	}
}

// NewV4L2Opener は実カメラ用のOpenerを返す
func NewV4L2Opener(width, height int) Opener {
	return func(index int) Device {
		return NewV4L2Device(index, width, height)
	}
}

// Open はデバイスを開く
// 生存確認として1フレームをキャプチャし、成功した場合そのフレームを返す
func (d *V4L2Device) Open(ctx context.Context) ([]byte, error) {
	// デバイスファイルの存在確認
	if _, err := os.Stat(d.devicePath); err != nil {
		return nil, fmt.Errorf("デバイスが存在しません: %s", d.devicePath)
	}

	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	frame, err := d.captureJPEG(openCtx)
	if err != nil {
		return nil, fmt.Errorf("テストキャプチャに失敗: %w", err)
	}

	d.mu.Lock()
	d.opened = true
	d.mu.Unlock()

	return frame, nil
}

// Read は1フレームをキャプチャしてJPEGバイト配列として返す
func (d *V4L2Device) Read(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	opened := d.opened
	d.mu.Unlock()

	if !opened {
		return nil, fmt.Errorf("デバイスが開かれていません: %s", d.devicePath)
	}

	return d.captureJPEG(ctx)
}

// Release はデバイスを解放する。多重呼び出しは安全
func (d *V4L2Device) Release() {
	d.mu.Lock()
	d.opened = false
	d.mu.Unlock()
}

// captureJPEG はffmpegを使って1フレームをJPEGとしてキャプチャする
func (d *V4L2Device) captureJPEG(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", d.width, d.height),
		"-i", d.devicePath,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("JPEGフレームキャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// MockDevice はテスト用のモックDevice実装
type MockDevice struct {
	Index     int
	FailOpen  bool   // Openを失敗させる
	FailRead  bool   // Readを失敗させる
	FrameData []byte // 返すフレームデータ

	mu           sync.Mutex
	opened       bool
	OpenCount    int
	ReadCount    int
	ReleaseCount int
}

// Open はモックデバイスを開く
func (m *MockDevice) Open(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenCount++
	if m.FailOpen {
		return nil, fmt.Errorf("モックデバイス %d のオープンに失敗", m.Index)
	}
	if m.FailRead {
		// オープン自体は成功してもフレームが読めないデバイス
		return nil, fmt.Errorf("モックデバイス %d の読み取りに失敗", m.Index)
	}

	m.opened = true
	return m.frame(), nil
}

// Read はモックフレームを返す
func (m *MockDevice) Read(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		return nil, fmt.Errorf("モックデバイス %d は開かれていません", m.Index)
	}
	if m.FailRead {
		return nil, fmt.Errorf("モックデバイス %d の読み取りに失敗", m.Index)
	}

	m.ReadCount++
	return m.frame(), nil
}

// Release は解放回数を記録する。多重呼び出しは安全
func (m *MockDevice) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReleaseCount++
	m.opened = false
}

// frame は返却用フレームのコピーを作る（ロック済み前提）
func (m *MockDevice) frame() []byte {
	data := m.FrameData
	if data == nil {
		data = []byte(fmt.Sprintf("mock-frame-%d", m.Index))
	}
	result := make([]byte, len(data))
	copy(result, data)
	return result
}

// NewMockOpener は固定のデバイス集合を返すOpenerを作る
// 集合にないインデックスはオープンに失敗するデバイスを返す
func NewMockOpener(devices map[int]*MockDevice) Opener {
	return func(index int) Device {
		if d, ok := devices[index]; ok {
			return d
		}
		return &MockDevice{Index: index, FailOpen: true}
	}
}
