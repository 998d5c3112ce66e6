// Package console is the interactive front end of fan-watch.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c-bata/go-prompt"

	"fan-monitor/monitor"
	"fan-monitor/protocol"
)

// DeviceClient is the subset of client.WebSocketClient the console uses.
type DeviceClient interface {
	Devices() []monitor.DeviceSnapshot
	LastUpdate() time.Time
	RequestDevices(ctx context.Context) ([]monitor.DeviceSnapshot, error)
	RequestStatus(ctx context.Context) (monitor.Status, error)
	Updates() <-chan []monitor.DeviceSnapshot
	Logs() <-chan protocol.LogNotificationPayload
	Done() <-chan struct{}
}

// Console runs commands against a DeviceClient and prints notifications.
type Console struct {
	ctx    context.Context
	client DeviceClient

	outMutex sync.Mutex
	out      io.Writer

	watch    atomic.Bool
	logs     atomic.Bool
	quitting atomic.Bool
}

// New creates a console writing to out. Update and log display start off.
func New(ctx context.Context, client DeviceClient, out io.Writer) *Console {
	return &Console{ctx: ctx, client: client, out: out}
}

// Execute runs one command line. It reports whether the session should end.
func (c *Console) Execute(line string) (quit bool, err error) {
	words := splitWords(strings.TrimSpace(line))
	if len(words) == 0 || words[0] == "" {
		return false, nil
	}
	if words[len(words)-1] == "" {
		words = words[:len(words)-1]
	}

	cmd, ok := findCommand(words[0])
	if !ok {
		return false, fmt.Errorf("不明なコマンド: %s", words[0])
	}

	err = cmd.Run(c.ctx, c, words[1:])
	if errors.Is(err, errQuit) {
		return true, nil
	}
	return false, err
}

// complete は go-prompt の補完関数
func (c *Console) complete(d prompt.Document) []prompt.Suggest {
	words := splitWords(d.TextBeforeCursor())
	if len(words) <= 1 {
		return prompt.FilterHasPrefix(commandCandidates(), d.GetWordBeforeCursor(), true)
	}

	cmd, ok := findCommand(words[0])
	if !ok || cmd.GetCandidatesFunc == nil {
		return []prompt.Suggest{}
	}
	return prompt.FilterHasPrefix(cmd.GetCandidatesFunc(c, d), d.GetWordBeforeCursor(), true)
}

// Run starts the notification printer and reads commands until quit,
// Ctrl-D, or ctx is done.
func (c *Console) Run() {
	go c.forwardNotifications()

	c.write(func(w io.Writer) { _, _ = fmt.Fprintln(w, "help for usage, quit to exit") })

	executor := func(line string) {
		quit, err := c.Execute(line)
		if err != nil {
			c.write(func(w io.Writer) { _, _ = fmt.Fprintf(w, "エラー: %v\n", err) })
		}
		if quit || c.ctx.Err() != nil {
			c.quitting.Store(true)
		}
	}

	p := prompt.New(executor, c.complete,
		prompt.OptionPrefix("> "),
		prompt.OptionTitle("fan-watch"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && c.quitting.Load()
		}),
	)
	p.Run()
}

// forwardNotifications prints updates and logs while their display is on.
func (c *Console) forwardNotifications() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.client.Done():
			c.write(func(w io.Writer) {
				_, _ = fmt.Fprintln(w, "\nサーバーとの接続が切れました。quit で終了します")
			})
			return
		case devices := <-c.client.Updates():
			if c.watch.Load() {
				c.printUpdate(devices)
			}
		case entry := <-c.client.Logs():
			if c.logs.Load() {
				c.write(func(w io.Writer) { FormatLog(w, entry) })
			}
		}
	}
}

func (c *Console) printUpdate(devices []monitor.DeviceSnapshot) {
	c.write(func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "\n--- %s ---\n", time.Now().Format(time.TimeOnly))
		FormatDevices(w, devices)
	})
}

func (c *Console) printDevices(devices []monitor.DeviceSnapshot) {
	c.write(func(w io.Writer) { FormatDevices(w, devices) })
}

// toggle implements the "<name> [on|off]" commands.
func (c *Console) toggle(name string, flag *atomic.Bool, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "on":
			flag.Store(true)
		case "off":
			flag.Store(false)
		default:
			return fmt.Errorf("%s コマンドの引数は on または off のみ有効です", name)
		}
	}
	state := "off"
	if flag.Load() {
		state = "on"
	}
	c.write(func(w io.Writer) { _, _ = fmt.Fprintf(w, "%s: %s\n", name, state) })
	return nil
}

func (c *Console) write(fn func(w io.Writer)) {
	c.outMutex.Lock()
	defer c.outMutex.Unlock()
	fn(c.out)
}

// Stream prints the table once and then on every update until ctx is done
// or the connection ends. It is used when stdin is not a terminal.
func Stream(ctx context.Context, client DeviceClient, out io.Writer) error {
	devices, err := client.RequestDevices(ctx)
	if err != nil {
		return err
	}
	FormatDevices(out, devices)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return errors.New("connection closed")
		case devices := <-client.Updates():
			_, _ = fmt.Fprintf(out, "\n--- %s ---\n", time.Now().Format(time.TimeOnly))
			FormatDevices(out, devices)
		}
	}
}
