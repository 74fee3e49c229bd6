// Package schedule は、スケジュール文書の保存とバックアップを扱います。
//
// 責務:
//   - 保存リクエストの解析（data と filepath）
//   - 保存先パスの接頭辞チェック
//   - 上書き前のタイムスタンプ付きバックアップ作成
//   - 2スペースインデントでの書き込み
//
// 仕様:
//   - 文書の構造は検証しない（最上位要素数のみ数える）
//   - バックアップは削除しない
//   - 書き込みはアトミックではない
package schedule
