package console

import (
	"strings"

	"github.com/c-bata/go-prompt"
)

// --- 補完候補生成のためのヘルパー関数群 ---
// これらは CommandTable.go 内の GetCandidatesFunc や Console.complete から呼び出される

// commandCandidates はコマンド名の候補を返す
func commandCandidates() []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(CommandTable))
	for _, cmd := range CommandTable {
		suggests = append(suggests, prompt.Suggest{Text: cmd.Name, Description: cmd.Summary})
		for _, alias := range cmd.Aliases {
			suggests = append(suggests, prompt.Suggest{Text: alias, Description: cmd.Summary})
		}
	}
	return suggests
}

// getDeviceNameCandidates は受信済みのデバイス名の候補を返す
// 空白を含む名前はクォートして返す
func getDeviceNameCandidates(c *Console) []prompt.Suggest {
	devices := c.client.Devices()
	suggests := make([]prompt.Suggest, 0, len(devices))
	for _, d := range devices {
		text := d.Name
		if strings.ContainsAny(text, " \t") {
			text = `"` + text + `"`
		}
		suggests = append(suggests, prompt.Suggest{Text: text, Description: d.Model})
	}
	return suggests
}

func onOffCandidates(c *Console, d prompt.Document) []prompt.Suggest {
	return []prompt.Suggest{{Text: "on"}, {Text: "off"}}
}

// splitWords は入力行を単語に分割する補助関数
// go-prompt の Document.GetWordBeforeCursor や Document.TextBeforeCursor と組み合わせて使う
func splitWords(line string) []string {
	// 空の入力の場合は空のスライスを返す
	if line == "" {
		return []string{}
	}

	words := make([]string, 0) // non-nil スライスとして初期化
	var word strings.Builder
	inQuote := false
	lastWasSpace := true // 最初はスペースとみなす

	for _, r := range line {
		switch r {
		case ' ', '\t':
			if !inQuote {
				if !lastWasSpace && word.Len() > 0 { // 直前がスペースでなく、単語がある場合のみ追加
					words = append(words, word.String())
					word.Reset()
				}
				lastWasSpace = true
			} else { // inQuote
				word.WriteRune(r)
				lastWasSpace = false // クォート内ではスペースも単語の一部
			}
		case '"', '\'':
			inQuote = !inQuote
			lastWasSpace = false
		default:
			word.WriteRune(r)
			lastWasSpace = false
		}
	}

	// 最後の単語を追加
	if word.Len() > 0 {
		words = append(words, word.String())
	}

	// 末尾が空白だった場合、空の単語を1つだけ追加
	if lastWasSpace {
		words = append(words, "")
	}

	return words
}
