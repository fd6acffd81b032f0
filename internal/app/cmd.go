package app

// Command はbizportalバイナリのサブコマンドを表す。
type Command string

const (
	// CommandServe は認証APIとページを配信するHTTPサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れOTPの定期削除と、MAIL_TRANSPORT=kafka時のメール中継を実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーママイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの/healthを確認する。設定の読み込みは行わない。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解析する。
// 引数なし、または未知のサブコマンドはCommandServeとして扱い、2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
