// schedsrv はスケジュール編集ツール用のローカル開発サーバーです
package main

import (
	"os"

	"schedsrv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
