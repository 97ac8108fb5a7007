package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ha1tch/sqlbridge/pkg/bridge"
	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// DefaultPingQuery reports the server build.
const DefaultPingQuery = "SELECT @@VERSION AS version"

func newPingCommand(app *App) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "ping <config.json|->",
		Short: "Open one session with a configuration document and run a check query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return app.ping(cmd.Context(), doc, query)
		},
	}
	cmd.Flags().StringVar(&query, "query", DefaultPingQuery, "Probe query to run")
	return cmd
}

func readDocument(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeConfigParse, "read %s", path).Err()
	}
	return data, nil
}

func (a *App) ping(ctx context.Context, doc []byte, query string) error {
	b := bridge.New(bridge.Options{Opener: a.open, Logger: a.logger})
	defer b.CloseAll()

	id, err := b.Connect(ctx, doc)
	if err != nil {
		return err
	}
	defer b.Disconnect(id)

	cmdDoc, err := json.Marshal(map[string]string{"sql": query, "command_type": "query"})
	if err != nil {
		return err
	}
	rows, err := b.Query(ctx, id, cmdDoc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "ok: %d row(s)\n", len(rows))
	return nil
}
