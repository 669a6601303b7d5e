package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/wikichat/chat"
)

// =============================================================================
// 💬 交互式 REPL
// =============================================================================

type repl struct {
	app     *app
	session sessionRunner
	verbose bool
}

// sessionRunner 便于测试替换真实会话。
type sessionRunner interface {
	Respond(ctx context.Context, query string) (replyText string, knowledge []string, prompt string, err error)
}

// chatSessionRunner 包装 chat.Session。
type chatSessionRunner struct {
	session *chat.Session
}

func (r *chatSessionRunner) Respond(ctx context.Context, query string) (string, []string, string, error) {
	result, err := r.session.Respond(ctx, query)
	if err != nil {
		return "", nil, "", err
	}

	knowledge := make([]string, len(result.Knowledge))
	for i, s := range result.Knowledge {
		knowledge[i] = s.Text
	}
	return result.Reply, knowledge, result.Prompt, nil
}

func newREPL(application *app, sessionID string, verbose bool) *repl {
	return &repl{
		app:     application,
		session: &chatSessionRunner{session: application.newSession(sessionID)},
		verbose: verbose,
	}
}

// run 读取用户输入直到 EOF 或退出命令。
func (r *repl) run() error {
	fmt.Println("WikiChat ready. Type 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		query := strings.TrimSpace(scanner.Text())
		switch query {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		reply, knowledge, prompt, err := r.session.Respond(context.Background(), query)
		if err != nil {
			r.app.logger.Error("turn failed", zap.Error(err))
			fmt.Println("bot> (something went wrong, please try again)")
			continue
		}

		if r.verbose {
			for i, sentence := range knowledge {
				fmt.Printf("  [knowledge %d] %s\n", i+1, sentence)
			}
			fmt.Printf("  [prompt] %s\n", prompt)
		}
		fmt.Printf("bot> %s\n", reply)
	}
}
