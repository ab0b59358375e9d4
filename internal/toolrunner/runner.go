// Package toolrunner は外部の画像・文書変換ツールをサブプロセスとして実行します。
package toolrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// NotFoundError は実行ファイルが実行パス上で見つからない場合のエラーです。
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("command %s not found: %v", e.Name, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ExecError はツールがエラー終了した場合のエラーです。取得した出力を保持します。
type ExecError struct {
	Name   string
	Output string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("command %s failed: %v: %s", e.Name, e.Err, e.Output)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Runner は名前付きの外部コマンドを実行します。リトライはしません。
// 再実行の方針（冪等な再入）は呼び出し側の責務です。
type Runner struct{}

// New は Runner を作成します。
func New() *Runner {
	return &Runner{}
}

// Run はコマンドを実行し、標準出力と標準エラーをまとめたテキストを返します。
// コマンドが見つからなければ *NotFoundError、エラー終了なら *ExecError を返します。
// ツールの成果物はファイルシステムへの副作用として生成される前提で、
// 出力テキストはログ用途にのみ使います。
func (r *Runner) Run(ctx context.Context, name string, args ...string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &NotFoundError{Name: name, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	if err := cmd.Run(); err != nil {
		return combined.String(), &ExecError{Name: name, Output: combined.String(), Err: err}
	}
	return combined.String(), nil
}

// RunExit は Run と同様にコマンドを実行しますが、プロセスが起動した場合は
// 終了コードも返します。djvused のように特定の終了コードを「部分的な破損」の
// シグナルとして使うツールのためのものです。終了コード起因の失敗はエラーに
// しません。
func (r *Runner) RunExit(ctx context.Context, name string, args ...string) (string, int, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", 0, &NotFoundError{Name: name, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err = cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return combined.String(), exitErr.ExitCode(), nil
		}
		return combined.String(), 0, &ExecError{Name: name, Output: combined.String(), Err: err}
	}
	return combined.String(), 0, nil
}
