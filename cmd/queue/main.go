// Package main はジョブキュー管理CLIのエントリーポイントです。
package main

import "github.com/yourusername/scanbridge/internal/cli"

func main() {
	cli.Execute()
}
