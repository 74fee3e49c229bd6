// Package server は、スケジュール編集ツール用のHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動と停止、ルーティング、
// 静的ファイルの配信、スケジュール保存APIを担当します。
//
// 責務:
//   - OPTIONS へのCORSプリフライト応答
//   - GET での HTML/JS/JSON ファイルの配信（"/" は "/index.html"）
//   - POST /api/save-schedule でのバックアップ付き保存
//   - 保存履歴の記録と出力ディレクトリの監視（任意）
//
// 仕様:
//   - ルーティングには gin を使用
//   - リクエストは1件ずつ処理する
//   - 停止時は処理中のリクエストを待たずにソケットを閉じる
//   - エラー内容はそのままクライアントに返す
package server
