// Package server は、HTTPサーバーとAPIエンドポイントを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// タイムラプスエンジンへのコマンド中継、プレビュー配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - タイムラプス操作APIの提供（開始・停止・設定変更・カメラ切り替え）
//   - プレビューのMJPEGストリーミング配信
//   - 実行履歴の一覧提供
//
// 仕様:
//   - ルーティングとハンドラはgin-gonic/ginを使用
//   - 状態を変更する操作はすべてエンジンのディスパッチ機構に委譲する
//   - 複数クライアントの同時接続をサポート
package server
