package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"NeoLink-Agent/internal/api"
	"NeoLink-Agent/pkg/logger"
)

// lineReader 是 REPL 需要的输入能力，*readline.Instance 满足该接口。
type lineReader interface {
	Readline() (string, error)
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var (
		offline bool
		user    string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if !verbose {
				cfg.Logging.Level = "warn"
				cfg.Logging.OutputPaths = []string{"stderr"}
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cfg, offline)
			if err != nil {
				return err
			}
			defer rt.Close()
			bgCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			rt.Start(bgCtx)

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "you> ",
				HistoryFile:     filepath.Join(os.TempDir(), ".neolink_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "bye",
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			fmt.Fprintln(rl.Stdout(), "NeoLink chat. Type /quit to leave.")
			return runChat(ctx, rl, rl.Stdout(), rt.agent, user)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "use built-in demo data and an echo generator")
	cmd.Flags().StringVar(&user, "user", "local:terminal", "sender identifier for the session")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "keep the configured log level")
	return cmd
}

// runChat 逐行读取输入并打印回复，直到 EOF、/quit 或 ctx 结束。
func runChat(ctx context.Context, in lineReader, out io.Writer, handler api.MessageHandler, user string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if strings.TrimSpace(line) == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		reply := handler.HandleMessage(ctx, user, line)
		fmt.Fprintf(out, "neolink> %s\n", reply.Text)
		if len(reply.QuickReplies) > 0 {
			fmt.Fprintf(out, "         [%s]\n", strings.Join(reply.QuickReplies, "] ["))
		}
	}
}
