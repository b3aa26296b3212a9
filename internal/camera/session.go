package camera

import (
	"context"
	"fmt"
	"sync"
)

// Session は開いているカメラハンドルと直近フレームを所有する
// 同時に開かれるハンドルは常に最大1つで、切り替え時は
// 新しいハンドルのオープン成功後に古いハンドルを解放する
type Session struct {
	opener Opener

	mu    sync.RWMutex
	dev   Device
	index int    // 現在のカメラインデックス（未オープンは-1）
	frame []byte // 直近に読めたフレームのキャッシュ
}

// NewSession は新しいSessionを作成する
func NewSession(opener Opener) *Session {
	return &Session{
		opener: opener,
		index:  -1,
	}
}

// Opener はこのセッションのOpenerを返す（列挙に使う）
func (s *Session) Opener() Opener {
	return s.opener
}

// Open は指定インデックスのカメラを開く
// 成功した場合のみ、それまで保持していたハンドルを解放して
// 新しいハンドルの所有権を取り、オープン時に読めたフレームをキャッシュする
func (s *Session) Open(ctx context.Context, index int) error {
	dev := s.opener(index)
	frame, err := dev.Open(ctx)
	if err != nil {
		dev.Release()
		return fmt.Errorf("カメラ %d のオープンに失敗: %w", index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 開き直しで同じハンドルが返ってきた場合は解放しない
	if s.dev != nil && s.dev != dev {
		s.dev.Release()
	}
	s.dev = dev
	s.index = index
	s.frame = frame

	return nil
}

// Read は1フレーム読み取る。成功した場合はキャッシュを更新する
func (s *Session) Read(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	dev := s.dev
	s.mu.RUnlock()

	if dev == nil {
		return nil, fmt.Errorf("カメラが開かれていません")
	}

	frame, err := dev.Read(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.frame = frame
	s.mu.Unlock()

	return frame, nil
}

// Frame は直近に読めたフレームのコピーを返す（なければnil）
func (s *Session) Frame() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.frame == nil {
		return nil
	}
	frame := make([]byte, len(s.frame))
	copy(frame, s.frame)
	return frame
}

// Index は現在のカメラインデックスを返す（未オープンは-1）
func (s *Session) Index() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// IsOpen はハンドルを保持しているかを返す
func (s *Session) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dev != nil
}

// Release は保持中のハンドルを解放する
// 保持していない状態で呼んでも安全（no-op）
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev != nil {
		s.dev.Release()
		s.dev = nil
	}
	s.frame = nil
}

// Switch はカメラを切り替える
// 失敗した場合は元のインデックス、先頭の列挙済みインデックス、
// インデックス0の順にフォールバックし、実際に開けたインデックスを返す
// 切り替え自体が失敗した場合はフォールバックの成否に関わらずエラーを返す
func (s *Session) Switch(ctx context.Context, index int, available []int) (int, error) {
	prev := s.Index()

	if err := s.Open(ctx, index); err == nil {
		return index, nil
	}

	switchErr := fmt.Errorf("カメラ %d への切り替えに失敗しました", index)

	// 元のカメラを開き直す
	if prev >= 0 && prev != index {
		if err := s.Open(ctx, prev); err == nil {
			return prev, switchErr
		}
	}

	// 先頭の列挙済みインデックス、無ければ0にフォールバック
	fallback := 0
	if len(available) > 0 {
		fallback = available[0]
	}
	if fallback != index {
		if err := s.Open(ctx, fallback); err == nil {
			return fallback, switchErr
		}
	}

	return s.Index(), fmt.Errorf("カメラ %d への切り替えとフォールバックの両方に失敗しました", index)
}
