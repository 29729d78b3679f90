package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/examvault/internal/mcpserver"
)

// ErrChainInvalid is returned by RunVerify when the ledger fails verification.
var ErrChainInvalid = errors.New("ledger verification failed")

// withServices runs fn against freshly opened services. Logs go to stderr so
// stdout stays free for command output and the MCP transport.
func withServices(opts []Option, fn func(app *application, svc *services) error) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)

	svc, err := openServices(app, logger, nil)
	if err != nil {
		return err
	}
	defer svc.close()
	return fn(app, svc)
}

func (a *application) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RunVerify walks the ledger and prints the verification result.
func RunVerify(ctx context.Context, opts ...Option) error {
	return withServices(opts, func(app *application, svc *services) error {
		res, err := svc.chain.Verify(ctx)
		if err != nil {
			return err
		}
		if err := app.printJSON(res); err != nil {
			return err
		}
		if !res.Valid {
			return ErrChainInvalid
		}
		return nil
	})
}

// RunRebuild re-mines the ledger and prints the number of rewritten blocks
// along with a fresh verification.
func RunRebuild(ctx context.Context, opts ...Option) error {
	return withServices(opts, func(app *application, svc *services) error {
		n, err := svc.chain.Rebuild(ctx)
		if err != nil {
			return err
		}
		res, err := svc.chain.Verify(ctx)
		if err != nil {
			return err
		}
		return app.printJSON(map[string]any{"rewritten": n, "verification": res})
	})
}

// RunHistory prints the blocks recorded for subjectID.
func RunHistory(ctx context.Context, subjectID string, opts ...Option) error {
	if subjectID == "" {
		return errors.New("subject id is required")
	}
	return withServices(opts, func(app *application, svc *services) error {
		blocks, err := svc.chain.HistoryOf(ctx, subjectID)
		if err != nil {
			return err
		}
		return app.printJSON(blocks)
	})
}

// RunChain prints every block.
func RunChain(ctx context.Context, opts ...Option) error {
	return withServices(opts, func(app *application, svc *services) error {
		blocks, err := svc.chain.ListChain(ctx)
		if err != nil {
			return err
		}
		return app.printJSON(blocks)
	})
}

// RunMCP serves the read-only MCP tools on stdin/stdout.
func RunMCP(_ context.Context, opts ...Option) error {
	return withServices(opts, func(_ *application, svc *services) error {
		svc.logger.Info("mcp: serving on stdio")
		if err := mcpserver.New(svc.chain, svc.docs).ServeStdio(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		svc.logger.Info("mcp: stopped", slog.String("reason", "stdin closed"))
		return nil
	})
}
