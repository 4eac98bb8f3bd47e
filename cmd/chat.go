package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"codesmith/internal/models"
	"codesmith/internal/worker"
)

const exitCommand = "/exit"

var chatModel string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with CodeSmith in the terminal",
	Long: `Start one conversation that lasts until /exit or end of input.
Each line is sent as a message and the reply is streamed back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		manager := newManager(cfg)
		defer manager.Close()
		return runChat(cmd.Context(), manager, chatModel, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model to use (default from config)")
	rootCmd.AddCommand(chatCmd)
}

type chatSessions interface {
	Start(ctx context.Context, modelName string) (*models.Session, []models.Message, error)
	Submit(req worker.TurnRequest) (*worker.TurnResult, error)
	End(sessionID string) error
}

func runChat(ctx context.Context, sessions chatSessions, modelName string, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	session, messages, err := sessions.Start(ctx, modelName)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sessions.End(session.ID)

	fmt.Fprintf(out, "model: %s\n", session.Model)
	for _, msg := range messages {
		fmt.Fprintf(out, "%s> %s\n", msg.Role, msg.Content)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimSpace(line) == exitCommand {
			break
		}

		printed := 0
		fmt.Fprint(out, "assistant> ")
		_, err := sessions.Submit(worker.TurnRequest{
			Context:   ctx,
			SessionID: session.ID,
			Content:   line,
			ChunkFn: func(acc string) error {
				fmt.Fprint(out, acc[printed:])
				printed = len(acc)
				return nil
			},
		})
		fmt.Fprintln(out)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}
