package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/rag"
	"document-qa/internal/server"
)

const configFilePath = "./configs/config.yaml"

var (
	cfgPath string
	cfg     *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docqa",
		Short:         "Question answering over uploaded documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			var err error
			cfg, err = config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Log)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", configFilePath, "Path to the config file")

	root.AddCommand(newServeCmd(), newIngestCmd(), newAskCmd(), newDocsCmd(), newExportCmd(), newImportCmd())
	return root
}

func setupLogger(lc config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(cfg.Server, a.pipeline(0), a.docs, a.status)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newIngestCmd() *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Upload and index local documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, f := range files {
				info, err := a.docs.IngestFile(cmd.Context(), f)
				if err != nil {
					log.Error().Err(err).Str("file", f).Msg("Failed to ingest document")
					failed++
					continue
				}
				helper.PrettyPrint(info)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&files, "file", nil, "Path to the document file (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newAskCmd() *cobra.Command {
	var (
		question   string
		sessionID  string
		model      string
		documentID int64
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer one question from the indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline(documentID).Ask(cmd.Context(), rag.Request{
				Question:  question,
				SessionID: sessionID,
				Model:     model,
			})
			if err != nil && !errors.Is(err, models.ErrPersistenceFailure) {
				return err
			}

			sources := make([]string, 0, len(res.Sources))
			for _, c := range res.Sources {
				sources = append(sources, fmt.Sprintf("%s#%d", filepath.Base(c.Filename), c.ChunkIndex))
			}
			for _, st := range res.Trace {
				log.Debug().Str("stage", st.Stage).Dur("duration", st.Duration).AnErr("degraded", st.Err).Msg("stage")
			}
			helper.PrettyPrint(map[string]any{
				"answer":              res.Answer,
				"session_id":          res.SessionID,
				"model":               res.Model,
				"standalone_question": res.StandaloneQuestion,
				"outcome":             res.Outcome,
				"sources":             sources,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&question, "question", "", "Question to be answered")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to continue")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().Int64Var(&documentID, "document", 0, "Limit retrieval to one document id")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List uploaded documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.docs.List(cmd.Context())
			if err != nil {
				return err
			}
			helper.PrettyPrint(docs)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of the chunk collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.vectors == nil {
				return models.ErrIndexUnavailable
			}

			path, err := a.vectors.Export(out)
			if err != nil {
				return err
			}
			log.Info().Str("file", path).Int("chunks", a.vectors.Count()).Msg("Collection exported")
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Destination file (defaults to the vector store directory)")
	return cmd
}

func newImportCmd() *cobra.Command {
	var (
		in      string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a snapshot written by export",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.vectors == nil {
				return models.ErrIndexUnavailable
			}

			if err := a.vectors.Import(in, replace); err != nil {
				return err
			}
			log.Info().Int("chunks", a.vectors.Count()).Msg("Collection imported")
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Snapshot file (defaults to the vector store directory)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Drop the current collection before loading")
	return cmd
}
