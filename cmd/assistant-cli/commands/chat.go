package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/service"
)

var showSQL bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation",
	Long: `Start an interactive conversation with the assistant.

Commands inside the session:
  /contexto        show the context stack
  /exportar [n]    write level n (0 = latest) as CSV to the current directory
  /reiniciar       clear the conversation
  /salir           exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close() //nolint:errcheck

		r := &repl{chat: app.Chat, exports: app.Exports, out: cmd.OutOrStdout(), showSQL: showSQL}
		return r.run(cmd.Context(), cmd.InOrStdin())
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <pregunta>",
	Short: "Ask a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close() //nolint:errcheck

		r := &repl{chat: app.Chat, out: cmd.OutOrStdout(), showSQL: showSQL}
		return r.turn(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	chatCmd.Flags().BoolVar(&showSQL, "sql", false, "print the executed SQL")
	askCmd.Flags().BoolVar(&showSQL, "sql", false, "print the executed SQL")
}

type chatClient interface {
	Send(ctx context.Context, sessionID, message, attachment string) (*models.TurnResult, error)
	Levels(ctx context.Context, sessionID string) ([]models.ContextLevel, error)
	Level(ctx context.Context, sessionID string, depth int) (models.ContextLevel, error)
	Reset(ctx context.Context, sessionID string) error
}

type levelExporter interface {
	ExportLevel(sessionID string, level models.ContextLevel) (*service.ExportResult, error)
}

type repl struct {
	chat    chatClient
	exports levelExporter
	out     io.Writer
	showSQL bool

	sessionID string
	// writeFile is replaced in tests.
	writeFile func(name string, data []byte) error
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, "Asistente escolar. Escribe /salir para terminar.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			done, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, "Error:", err)
			}
			if done {
				return nil
			}
			continue
		}
		if err := r.turn(ctx, line); err != nil {
			fmt.Fprintln(r.out, "Error:", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *repl) turn(ctx context.Context, message string) error {
	res, err := r.chat.Send(ctx, r.sessionID, message, "")
	if err != nil {
		return err
	}
	r.sessionID = res.SessionID
	fmt.Fprintln(r.out, res.Reply)
	if r.showSQL && res.SQL != "" {
		fmt.Fprintln(r.out, "SQL:", res.SQL)
	}
	if res.Certificate != nil && res.Certificate.DownloadURL != "" {
		fmt.Fprintln(r.out, "Descarga:", res.Certificate.DownloadURL)
	}
	return nil
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/salir", "/exit":
		return true, nil
	case "/reiniciar", "/reset":
		if r.sessionID == "" {
			return false, nil
		}
		if err := r.chat.Reset(ctx, r.sessionID); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Conversación reiniciada.")
	case "/contexto":
		if r.sessionID == "" {
			fmt.Fprintln(r.out, "Sin contexto.")
			return false, nil
		}
		levels, err := r.chat.Levels(ctx, r.sessionID)
		if err != nil {
			return false, err
		}
		if len(levels) == 0 {
			fmt.Fprintln(r.out, "Sin contexto.")
		}
		for i := len(levels) - 1; i >= 0; i-- {
			l := levels[i]
			fmt.Fprintf(r.out, "[%d] %q %d filas (%s)\n", len(levels)-1-i, l.Query, l.RowCount, l.Awaiting)
		}
	case "/exportar":
		return false, r.export(ctx, fields[1:])
	default:
		fmt.Fprintln(r.out, "Comando desconocido:", fields[0])
	}
	return false, nil
}

func (r *repl) export(ctx context.Context, args []string) error {
	if r.exports == nil || r.sessionID == "" {
		return fmt.Errorf("no hay resultados para exportar")
	}
	depth := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("nivel inválido: %s", args[0])
		}
		depth = n
	}
	level, err := r.chat.Level(ctx, r.sessionID, depth)
	if err != nil {
		return err
	}
	result, err := r.exports.ExportLevel(r.sessionID, level)
	if err != nil {
		return err
	}
	write := r.writeFile
	if write == nil {
		write = func(name string, data []byte) error { return os.WriteFile(name, data, 0o644) }
	}
	if err := write(result.Filename, result.Payload); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%d filas exportadas a %s\n", result.Rows, result.Filename)
	return nil
}
