package timelapse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ErrNothingToEncode はエンコード対象のフレームが1枚もない場合のエラー
var ErrNothingToEncode = errors.New("エンコードするフレームがありません")

// VideoEncoder は撮影済みフレーム列からの動画生成を抽象化する
type VideoEncoder interface {
	// Encode は動画生成を非同期に開始する
	// プロセス完了時にonDoneが終了コードとともに呼ばれる
	// フレームが0件の場合はErrNothingToEncodeを返し、プロセスは起動しない
	Encode(run *Run, onDone func(exitCode int)) error
}

// FFmpegEncoder はffmpegの外部プロセスで動画を生成するVideoEncoder実装
type FFmpegEncoder struct {
	ffmpegPath string
}

// NewFFmpegEncoder は新しいFFmpegEncoderを作成する
func NewFFmpegEncoder() *FFmpegEncoder {
	return &FFmpegEncoder{
		ffmpegPath: "ffmpeg",
	}
}

// encodeArgs はffmpegの引数列を組み立てる
// 実行ディレクトリをrunの出力先にするため、入出力は相対パスで指定する
func encodeArgs(fps int) []string {
	if fps < 1 {
		fps = 1
	}
	return []string{
		"-y",
		"-framerate", strconv.Itoa(fps),
		"-i", "frame_%05d.jpg",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"timelapse.mp4",
	}
}

// Encode は撮影済みフレーム列から動画を非同期に生成する
func (e *FFmpegEncoder) Encode(run *Run, onDone func(exitCode int)) error {
	if run == nil || run.OutputDir == "" || run.SavedCount == 0 {
		return ErrNothingToEncode
	}

	cmd := exec.Command(e.ffmpegPath, encodeArgs(run.Config.VideoFPS)...)
	cmd.Dir = run.OutputDir

	// 終了コードだけを契約とする。stderrはエラーログ用に保持する
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	go func() {
		err := cmd.Wait()
		exitCode := cmd.ProcessState.ExitCode()
		if err != nil && exitCode == 0 {
			// Waitのエラーで終了コードが取れないケース
			exitCode = -1
		}
		onDone(exitCode)
	}()

	return nil
}

// ValidateFFmpeg はffmpegが利用可能かチェックする
func (e *FFmpegEncoder) ValidateFFmpeg() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpegが見つかりません。インストールしてください: %w", err)
	}

	return nil
}
