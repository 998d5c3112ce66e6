package console

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/exp/slices"

	"fan-monitor/monitor"
)

// CommandDefinition はコマンドの定義を保持する構造体
type CommandDefinition struct {
	Name              string                                                     // コマンド名
	Aliases           []string                                                   // 別名（例: devicesとlistなど）
	Summary           string                                                     // 概要（短い説明）
	Syntax            string                                                     // 構文
	Description       []string                                                   // 詳細説明（各行が1つの要素）
	Run               func(ctx context.Context, c *Console, args []string) error // 実行関数
	GetCandidatesFunc func(c *Console, d prompt.Document) []prompt.Suggest       // 補完候補生成関数
}

// errQuit is returned by the quit command to end the session.
var errQuit = fmt.Errorf("quit")

// CommandTable はコマンドの定義を格納するテーブル
// It is populated in init because command handlers refer back to the table.
var CommandTable []CommandDefinition

func init() {
	CommandTable = []CommandDefinition{
		{
			Name:    "devices",
			Aliases: []string{"list"},
			Summary: "デバイスの一覧表示",
			Syntax:  "devices, list [-on|-off] [-refresh] [name...]",
			Description: []string{
				"name: 名前の前方一致でフィルター（大文字小文字を区別しない）。複数指定可能",
				"-on: 電源が入っているデバイスのみ表示",
				"-off: 電源が切れているデバイスのみ表示",
				"-refresh: 表示前にサーバーから最新の一覧を取得",
			},
			GetCandidatesFunc: func(c *Console, d prompt.Document) []prompt.Suggest {
				suggestions := []prompt.Suggest{
					{Text: "-on", Description: "電源ONのみ"},
					{Text: "-off", Description: "電源OFFのみ"},
					{Text: "-refresh", Description: "サーバーから再取得"},
				}
				return append(suggestions, getDeviceNameCandidates(c)...)
			},
			Run: func(ctx context.Context, c *Console, args []string) error {
				filter, refresh, err := parseDevicesArgs(args)
				if err != nil {
					return err
				}
				devices := c.client.Devices()
				if refresh || c.client.LastUpdate().IsZero() {
					devices, err = c.client.RequestDevices(ctx)
					if err != nil {
						return err
					}
				}
				c.printDevices(filter.apply(devices))
				return nil
			},
		},
		{
			Name:    "status",
			Summary: "サーバーのポーリング状態を表示",
			Syntax:  "status",
			Run: func(ctx context.Context, c *Console, args []string) error {
				status, err := c.client.RequestStatus(ctx)
				if err != nil {
					return err
				}
				c.write(func(w io.Writer) { FormatStatus(w, status) })
				return nil
			},
		},
		{
			Name:    "watch",
			Summary: "更新通知の表示を切り替え",
			Syntax:  "watch [on|off]",
			Description: []string{
				"引数なし: 現在の設定を表示",
				"on: devices_update を受信するたびに一覧を表示",
				"off: 表示を停止",
			},
			GetCandidatesFunc: onOffCandidates,
			Run: func(ctx context.Context, c *Console, args []string) error {
				return c.toggle("watch", &c.watch, args)
			},
		},
		{
			Name:    "logs",
			Summary: "サーバーログ通知の表示を切り替え",
			Syntax:  "logs [on|off]",
			Description: []string{
				"引数なし: 現在の設定を表示",
				"on: log_notification を表示",
				"off: 表示を停止",
			},
			GetCandidatesFunc: onOffCandidates,
			Run: func(ctx context.Context, c *Console, args []string) error {
				return c.toggle("logs", &c.logs, args)
			},
		},
		{
			Name:    "help",
			Summary: "ヘルプを表示",
			Syntax:  "help [command]",
			Description: []string{
				"引数なし: 全コマンドの概要を表示",
				"command: 指定したコマンドの詳細を表示",
			},
			GetCandidatesFunc: func(c *Console, d prompt.Document) []prompt.Suggest {
				return commandCandidates()
			},
			Run: func(ctx context.Context, c *Console, args []string) error {
				c.write(func(w io.Writer) {
					if len(args) > 0 {
						PrintCommandDetail(w, args[0])
					} else {
						PrintCommandSummary(w)
					}
				})
				return nil
			},
		},
		{
			Name:    "quit",
			Aliases: []string{"exit"},
			Summary: "終了",
			Syntax:  "quit, exit",
			Run: func(ctx context.Context, c *Console, args []string) error {
				return errQuit
			},
		},
	}
}

// findCommand returns the definition whose name or alias is name.
func findCommand(name string) (*CommandDefinition, bool) {
	for i := range CommandTable {
		cmd := &CommandTable[i]
		if cmd.Name == name || slices.Contains(cmd.Aliases, name) {
			return cmd, true
		}
	}
	return nil, false
}

// deviceFilter selects devices by power state and name prefix.
type deviceFilter struct {
	power    *monitor.PowerState
	prefixes []string
}

func (f deviceFilter) apply(devices []monitor.DeviceSnapshot) []monitor.DeviceSnapshot {
	result := make([]monitor.DeviceSnapshot, 0, len(devices))
	for _, d := range devices {
		if f.power != nil && d.PowerState != *f.power {
			continue
		}
		if len(f.prefixes) > 0 && !slices.ContainsFunc(f.prefixes, func(p string) bool {
			return strings.HasPrefix(strings.ToLower(d.Name), strings.ToLower(p))
		}) {
			continue
		}
		result = append(result, d)
	}
	return result
}

func parseDevicesArgs(args []string) (deviceFilter, bool, error) {
	var filter deviceFilter
	refresh := false
	for _, arg := range args {
		switch arg {
		case "-on":
			on := monitor.PowerOn
			filter.power = &on
		case "-off":
			off := monitor.PowerOff
			filter.power = &off
		case "-refresh":
			refresh = true
		default:
			if strings.HasPrefix(arg, "-") {
				return deviceFilter{}, false, fmt.Errorf("不明なオプション: %s", arg)
			}
			filter.prefixes = append(filter.prefixes, arg)
		}
	}
	return filter, refresh, nil
}

// PrintCommandSummary は、全コマンドの簡単なサマリーを表示する
func PrintCommandSummary(w io.Writer) {
	_, _ = fmt.Fprintln(w, "コマンド:")

	// テーブルからサマリーを表示
	for _, cmd := range CommandTable {
		aliases := ""
		if len(cmd.Aliases) > 0 {
			aliases = fmt.Sprintf(", %s", strings.Join(cmd.Aliases, ", "))
		}
		_, _ = fmt.Fprintf(w, "  %-14s: %s\n", cmd.Name+aliases, cmd.Summary)
	}

	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "詳細は 'help <コマンド名>' で確認できます。例: 'help devices'")
}

// PrintCommandDetail は、特定のコマンドの詳細情報を表示する
func PrintCommandDetail(w io.Writer, commandName string) {
	cmd, ok := findCommand(commandName)
	if !ok {
		// コマンドが見つからなかった場合
		_, _ = fmt.Fprintf(w, "不明なコマンド: %s\n", commandName)
		_, _ = fmt.Fprintln(w, "利用可能なコマンドを確認するには 'help' を入力してください")
		return
	}

	_, _ = fmt.Fprintf(w, "  %s: %s\n", cmd.Name, cmd.Summary)
	_, _ = fmt.Fprintf(w, "  構文: %s\n", cmd.Syntax)
	if len(cmd.Description) > 0 {
		_, _ = fmt.Fprintln(w, "  詳細:")
		for _, line := range cmd.Description {
			_, _ = fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
