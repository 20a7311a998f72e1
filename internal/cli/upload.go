package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/logger"
	"github.com/sir_venger/docupload/pkg/uploadclient"
	"github.com/sir_venger/docupload/pkg/uploadproto"
)

type uploadFlags struct {
	server       string
	office       string
	logicalID    string
	displayName  string
	submittedAt  string
	chunkSize    int64
	concurrency  int
	allow        []string
	keepOnCancel bool
	lineProgress bool
}

var upFlags uploadFlags

var uploadCmd = &cobra.Command{
	Use:   "upload [flags] FILE...",
	Short: "Upload one or more files",
	Long: `Upload files for one document entry. Ctrl+C stops every file at the next
chunk boundary; unfinished sessions are discarded unless --keep-on-cancel is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	f := uploadCmd.Flags()
	f.StringVar(&upFlags.server, "server", "", "upload service URL (overrides client.server_url)")
	f.StringVar(&upFlags.office, "office", "", "office the document belongs to")
	f.StringVar(&upFlags.logicalID, "logical-id", "", "logical id of the document entry")
	f.StringVar(&upFlags.displayName, "display-name", "", "display name of the submitter")
	f.StringVar(&upFlags.submittedAt, "submitted-at", "", "submission time, RFC3339 (default now)")
	f.Int64Var(&upFlags.chunkSize, "chunk-size", 0, "chunk size in bytes (overrides upload.chunk_size)")
	f.IntVar(&upFlags.concurrency, "concurrency", 0, "files uploaded in parallel")
	f.StringSliceVar(&upFlags.allow, "allow", nil, "allowed content types (overrides client.allowed_content_types)")
	f.BoolVar(&upFlags.keepOnCancel, "keep-on-cancel", false, "leave server sessions open on cancel")
	f.BoolVar(&upFlags.lineProgress, "line-progress", false, "print progress as separate lines")

	_ = uploadCmd.MarkFlagRequired("office")
	_ = uploadCmd.MarkFlagRequired("logical-id")
	_ = uploadCmd.MarkFlagRequired("display-name")

	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lg, closeLog, err := logger.New(logger.Config{Level: logLevel, Pretty: true, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer closeLog()

	submitted, err := parseSubmittedAt(upFlags.submittedAt, time.Now())
	if err != nil {
		return err
	}

	opts := uploadclient.OptionsFromConfig(cfg)
	if upFlags.chunkSize > 0 {
		opts.ChunkSize = upFlags.chunkSize
	}
	if upFlags.concurrency > 0 {
		opts.Concurrency = upFlags.concurrency
	}
	if len(upFlags.allow) > 0 {
		opts.AllowedContentTypes = upFlags.allow
	}
	if upFlags.keepOnCancel {
		opts.DiscardOnCancel = false
	}
	printer := uploadclient.NewProgressPrinter(cmd.OutOrStdout(), upFlags.lineProgress || len(args) > 1)
	opts.OnProgress = printer.Report

	server := upFlags.server
	if server == "" {
		server = cfg.Client.ServerURL
	}
	api := uploadclient.NewHTTPClient(server, &http.Client{Timeout: 5 * time.Minute})
	orch, err := uploadclient.New(api, opts, logger.Component(lg, "uploader"))
	if err != nil {
		return err
	}

	jobs := make([]uploadclient.Job, 0, len(args))
	for _, name := range args {
		file, err := os.Open(name)
		if err != nil {
			return err
		}
		defer file.Close()
		st, err := file.Stat()
		if err != nil {
			return err
		}
		jobs = append(jobs, uploadclient.Job{
			Name: name,
			Meta: uploadproto.Metadata{
				Office:      upFlags.office,
				LogicalID:   upFlags.logicalID,
				DisplayName: upFlags.displayName,
				SubmittedAt: submitted,
				FileName:    filepath.Base(name),
			},
			Source: file,
			Size:   st.Size(),
		})
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := orch.UploadBatch(ctx, jobs)
	printSummary(cmd, summary)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, len(jobs))
	}
	return nil
}

func printSummary(cmd *cobra.Command, s uploadclient.Summary) {
	out := cmd.OutOrStdout()
	for _, o := range s.Outcomes {
		switch o.Status {
		case uploadclient.StatusSuccess:
			fmt.Fprintf(out, "%s -> %s\n", o.File, o.Path)
		default:
			fmt.Fprintf(out, "%s: %s (%v)\n", o.File, o.Status, o.Err)
		}
	}
	fmt.Fprintf(out, "uploaded %d, failed %d, cancelled %d\n", s.Succeeded, s.Failed, s.Cancelled)
}

func parseSubmittedAt(v string, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return now.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--submitted-at: %w", err)
	}
	return t.UTC(), nil
}

// cmdContext returns the command context or Background for commands run without one.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
