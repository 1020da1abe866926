package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-batch/internal/batchclient"
	"github.com/kozaktomas/face-batch/internal/constants"
	"github.com/kozaktomas/face-batch/internal/facematch"
)

var submitCmd = &cobra.Command{
	Use:   "submit [dir|file...]",
	Short: "Upload target images in chunks and report matches",
	Long: `Create a job on a running face-batch server for the source image, upload
every target image in chunks and print which targets contain the source face.

Directories are searched recursively for JPEG and PNG files. Each chunk is sent
with its index, so re-running a failed upload never counts a chunk twice.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().String("server", "http://localhost:8080", "face-batch server URL")
	submitCmd.Flags().String("source", "", "Source image containing the face to search for")
	submitCmd.Flags().String("user", "", "Owner id recorded on the job")
	submitCmd.Flags().Int("chunk-size", constants.DefaultMaxTargetsPerChunk, "Targets per chunk")
	submitCmd.Flags().Int("parallel", 2, "Chunks uploaded at once")
	submitCmd.Flags().Duration("timeout", 10*time.Minute, "Timeout per request")
	submitCmd.Flags().StringToString("metadata", nil, "Job metadata as key=value pairs")
	_ = submitCmd.MarkFlagRequired("source")
	_ = submitCmd.MarkFlagRequired("user")
}

// imageMIME returns the MIME type for supported image extensions.
func imageMIME(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg", true
	case ".png":
		return "image/png", true
	default:
		return mime.TypeByExtension(filepath.Ext(path)), false
	}
}

// collectTargets expands directories into the supported image files below them.
func collectTargets(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := imageMIME(path); ok {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

// loadFile reads an image from disk.
func loadFile(path string) (batchclient.File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from the command line
	if err != nil {
		return batchclient.File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	mimeType, _ := imageMIME(path)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return batchclient.File{Name: filepath.Base(path), Data: data, MIMEType: mimeType}, nil
}

// chunkUpload is the outcome of uploading one chunk.
type chunkUpload struct {
	index   int
	results []facematch.Result
	bytes   uint64
	err     error
}

func uploadChunk(ctx context.Context, client *batchclient.Client, jobID string, index int, paths []string) chunkUpload {
	up := chunkUpload{index: index}
	files := make([]batchclient.File, 0, len(paths))
	for _, path := range paths {
		f, err := loadFile(path)
		if err != nil {
			up.err = err
			return up
		}
		up.bytes += uint64(len(f.Data))
		files = append(files, f)
	}

	resp, err := client.SubmitChunk(ctx, jobID, index, files)
	if err != nil {
		up.err = err
		return up
	}
	up.results = resp.ChunkResults
	return up
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	chunkSize := mustGetInt(cmd, "chunk-size")
	parallel := mustGetInt(cmd, "parallel")
	if chunkSize <= 0 || parallel <= 0 {
		return errors.New("--chunk-size and --parallel must be positive")
	}

	client, err := batchclient.New(mustGetString(cmd, "server"), mustGetDuration(cmd, "timeout"))
	if err != nil {
		return err
	}

	source, err := loadFile(mustGetString(cmd, "source"))
	if err != nil {
		return err
	}

	paths, err := collectTargets(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no target images found")
	}
	chunks := slices.Collect(slices.Chunk(paths, chunkSize))

	created, err := client.CreateJob(ctx, mustGetString(cmd, "user"), source, len(chunks), mustGetStringToString(cmd, "metadata"))
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	fmt.Fprintf(out, "Job %s: %d targets in %d chunks, %d face(s) in source\n\n",
		created.JobID, len(paths), len(chunks), created.SourceFaceCount)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Comparing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	uploads := make([]chunkUpload, len(chunks))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			uploads[i] = uploadChunk(ctx, client, created.JobID, i, chunk)
			_ = bar.Add(len(chunk))
		}()
	}
	wg.Wait()
	_ = bar.Finish()
	fmt.Fprintln(out)

	var uploaded uint64
	var failedChunks int
	for _, up := range uploads {
		uploaded += up.bytes
		switch {
		case up.err == nil:
		case batchclient.IsConflict(up.err):
			fmt.Fprintf(out, "chunk %d already recorded: %v\n", up.index, up.err)
		default:
			failedChunks++
			fmt.Fprintf(out, "chunk %d failed: %v\n", up.index, up.err)
		}
	}

	report, err := client.Status(ctx, created.JobID)
	if err != nil {
		return fmt.Errorf("fetching job status: %w", err)
	}

	printReport(out, report.Job.Results, uploaded)
	fmt.Fprintf(out, "Job status: %s (%d/%d chunks)\n", report.Job.Status, report.Job.CompletedChunks, report.Job.TotalChunks)

	if failedChunks > 0 {
		return fmt.Errorf("%d chunk(s) failed to upload", failedChunks)
	}
	return nil
}

// printReport lists matched targets, best similarity first, followed by totals.
func printReport(out io.Writer, results []facematch.Result, uploaded uint64) {
	type hit struct {
		target string
		best   float64
	}
	var hits []hit
	var noMatch, noFace, failed int
	for _, r := range results {
		switch r.Outcome {
		case facematch.OutcomeMatched:
			best := 0.0
			for _, m := range r.Matches {
				best = max(best, m.Similarity)
			}
			hits = append(hits, hit{target: r.Target, best: best})
		case facematch.OutcomeNoMatch:
			noMatch++
		case facematch.OutcomeNoFace:
			noFace++
		case facematch.OutcomeFailed:
			failed++
		}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if a.best != b.best {
			if a.best > b.best {
				return -1
			}
			return 1
		}
		return strings.Compare(a.target, b.target)
	})

	if len(hits) > 0 {
		fmt.Fprintln(out, "Matches:")
		for _, h := range hits {
			fmt.Fprintf(out, "  %6.2f%%  %s\n", h.best, h.target)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Uploaded %s across %d targets\n", humanize.Bytes(uploaded), len(results))
	fmt.Fprintf(out, "Matched: %d, no match: %d, no face: %d, failed: %d\n", len(hits), noMatch, noFace, failed)
}
