// Package camera カメラデバイスの列挙とハンドル管理を担う
//
// # 責務
// - カメラインデックスの順次プローブによる列挙
// - 開いているカメラハンドルの排他所有（常に最大1つ）
// - 直近フレームのキャッシュ保持
// - V4L2デバイスからのJPEGフレーム取得
//
// # 仕様
// - Enumerate: インデックス0から順にプローブし、2回連続失敗で打ち切る
// - Session: open/switch/release を提供。openは1フレームの読み取り成功を
//   生存確認とし、そのフレームをキャッシュする
// - V4L2Device: ffmpeg経由での1フレームキャプチャ
// - Thread-safe な操作をサポート
//
// # 前提要件
//   - ffmpeg: 画像キャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//     Red Hat/Fedora: sudo dnf install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
