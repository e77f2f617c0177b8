package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joelkehle/patent-drafter/internal/app"
	"github.com/joelkehle/patent-drafter/internal/config"
	"github.com/joelkehle/patent-drafter/internal/logging"
)

func newGenerateCmd() *cobra.Command {
	var (
		ideaFile    string
		contextFile string
		req         app.GenerateRequest
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run a generation synchronously and print the output path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (ideaFile == "") == (contextFile == "") {
				return errors.New("exactly one of --idea-file or --context-file is required")
			}
			if ideaFile != "" {
				text, err := readInput(ideaFile)
				if err != nil {
					return err
				}
				req.Idea = text
			} else {
				text, err := readInput(contextFile)
				if err != nil {
					return err
				}
				req.Context = text
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return generate(cmd, cfg, req)
		},
	}
	cmd.Flags().StringVar(&ideaFile, "idea-file", "", "file with the raw invention idea (- for stdin)")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "file with a prepared technical context (- for stdin)")
	cmd.Flags().IntVar(&req.Iterations, "iterations", 1, "number of writer/reviewer rounds")
	cmd.Flags().StringVar(&req.OutputName, "name", "", "output file name stem")
	cmd.Flags().StringVar(&req.TemplateID, "template", "", "document template id for rendering")
	return cmd
}

func readInput(path string) (string, error) {
	if path == "-" {
		blob, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(blob), nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

func generate(cmd *cobra.Command, cfg config.Config, req app.GenerateRequest) error {
	logger := logging.New(cfg.AppEnv, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.ErrOrStderr()
	res, err := a.Generate(ctx, req, func(percent int, message string) {
		fmt.Fprintf(out, "[%3d%%] %s\n", percent, message)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.OutputPath)
	if res.RenderedPath != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.RenderedPath)
	}
	return nil
}

