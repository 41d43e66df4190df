package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はスキーママイグレーションを操作することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandMigrate:
		return CommandMigrate
	case CommandHealthcheck:
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// MigrateOptions はmigrateサブコマンドの解析結果。
type MigrateOptions struct {
	Action MigrateAction
	// Steps はdownで巻き戻す件数。
	Steps int
}

// ParseMigrateArgs は"migrate"に続く引数を解析する。
//
//	migrate              未適用分をすべて適用
//	migrate up           同上
//	migrate down [N]     直近N件（既定1件）を巻き戻す
//	migrate version      適用済みバージョンを表示
func ParseMigrateArgs(args []string) (MigrateOptions, error) {
	if len(args) == 0 {
		return MigrateOptions{Action: MigrateUp}, nil
	}

	switch action := MigrateAction(args[0]); action {
	case MigrateUp, MigrateVersion:
		if len(args) > 1 {
			return MigrateOptions{}, fmt.Errorf("migrate %s takes no arguments, got %q", action, args[1:])
		}
		return MigrateOptions{Action: action}, nil
	case MigrateDown:
		opts := MigrateOptions{Action: MigrateDown, Steps: 1}
		switch len(args) {
		case 1:
			return opts, nil
		case 2:
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return MigrateOptions{}, fmt.Errorf("migrate down: steps must be a positive integer, got %q", args[1])
			}
			opts.Steps = n
			return opts, nil
		default:
			return MigrateOptions{}, fmt.Errorf("migrate down takes at most one argument, got %q", args[1:])
		}
	default:
		return MigrateOptions{}, fmt.Errorf("unknown migrate action %q (want up, down or version)", args[0])
	}
}
