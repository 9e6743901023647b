// Package executor implements the transcode executor (C4): download the
// source, invoke FFmpeg, upload the result, and clean up — all for one job.
// No retries happen here; the controller reports the resulting Outcome to
// the dispatcher once.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// errTranscodeTimeout signals that RunTimeout, not ffmpeg itself, ended the
// transcode — Execute maps it to a distinct failure reason.
var errTranscodeTimeout = errors.New("transcoder timeout")

// targetCodecPattern whitelists the target_codec field so it can never be
// used to smuggle shell metacharacters into the ffmpeg invocation — even
// though argv-vector invocation already makes injection impossible, the
// validation is required independently (see Execute for the rejection path).
var targetCodecPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// progressLine matches ffmpeg's stderr progress report, e.g.
// "frame=  120 fps= 24 ... time=00:00:15.45 bitrate=...".
var progressLine = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}\.\d+)`)

// Outcome is the terminal result of Execute.
type Outcome struct {
	Completed bool
	OutputURL string
	Reason    string // populated iff !Completed
}

// Failed builds a failure Outcome with the given reason.
func Failed(reason string) Outcome { return Outcome{Completed: false, Reason: reason} }

// Completed builds a success Outcome with the given output URL.
func Completed(outputURL string) Outcome { return Outcome{Completed: true, OutputURL: outputURL} }

// Job is the minimal job description the executor needs.
type Job struct {
	JobID       string
	SourceURL   string
	TargetCodec string
}

// Config tunes executor behavior.
type Config struct {
	FFmpegPath      string
	WorkDir         string        // directory for input_<id>/output_<id> files; default "."
	DownloadTimeout time.Duration // default 30 min
	UploadTimeout   time.Duration // default 30 min
	RunTimeout      time.Duration // FFmpeg wall-clock budget; default 2h
	HTTPClient      *http.Client
	UploadBaseURL   string // default "http://example.com/transcoded"; see destinationURL
}

// Executor runs one job's full download/transcode/upload/cleanup lifecycle.
type Executor struct {
	cfg    Config
	logger zerolog.Logger
}

// New returns an Executor with defaults filled in for any zero-valued Config
// fields.
func New(cfg Config, logger zerolog.Logger) *Executor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = 30 * time.Minute
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 30 * time.Minute
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 2 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.UploadBaseURL == "" {
		cfg.UploadBaseURL = "http://example.com/transcoded"
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Execute runs the full lifecycle for job and always returns a terminal
// Outcome — it never returns a Go error, since every failure mode has a
// spec-defined reason string that the caller reports to the dispatcher.
func (e *Executor) Execute(ctx context.Context, job Job) Outcome {
	inputPath := e.inputPath(job.JobID)
	outputPath := e.outputPath(job.JobID)

	defer e.cleanup(inputPath, outputPath)

	if !targetCodecPattern.MatchString(job.TargetCodec) {
		return Failed("invalid target_codec")
	}

	if err := e.download(ctx, job.SourceURL, inputPath); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.JobID).Msg("executor: download failed")
		return Failed("Failed to download source video.")
	}

	if err := e.transcode(ctx, job, inputPath, outputPath); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.JobID).Msg("executor: ffmpeg failed")
		if errors.Is(err, errTranscodeTimeout) {
			return Failed("transcoder timeout")
		}
		return Failed("FFmpeg transcoding failed.")
	}

	outputURL := e.destinationURL(job.JobID)
	if err := e.upload(ctx, outputURL, outputPath); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.JobID).Msg("executor: upload failed")
		return Failed("Failed to upload transcoded video.")
	}

	return Completed(outputURL)
}

func (e *Executor) inputPath(jobID string) string {
	return fmt.Sprintf("%s/input_%s.mp4", e.cfg.WorkDir, jobID)
}

func (e *Executor) outputPath(jobID string) string {
	return fmt.Sprintf("%s/output_%s.mp4", e.cfg.WorkDir, jobID)
}

// destinationURL synthesizes the upload target. The dispatcher does not
// currently supply one — flagged as an open question, not guessed at with a
// richer contract neither source implements.
func (e *Executor) destinationURL(jobID string) string {
	return fmt.Sprintf("%s/output_%s.mp4", e.cfg.UploadBaseURL, jobID)
}

func (e *Executor) download(ctx context.Context, sourceURL, destPath string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return err
	}

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("download: status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func (e *Executor) transcode(ctx context.Context, job Job, inputPath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	// Argv vector, never a shell string: target_codec and URLs can never
	// inject shell metacharacters this way.
	args := []string{"-i", inputPath, "-c:v", job.TargetCodec, outputPath}
	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	go e.logProgress(job.JobID, stderr)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errTranscodeTimeout
		}
		return err
	}

	return nil
}

// logProgress scans ffmpeg's stderr for time= markers and logs them at
// Debug level. It never influences the Outcome — output integrity beyond
// exit-code success is out of scope.
func (e *Executor) logProgress(jobID string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := progressLine.FindStringSubmatch(line); m != nil {
			e.logger.Debug().Str("job_id", jobID).Str("time", m[0]).Msg("executor: ffmpeg progress")
		}
	}
}

func (e *Executor) upload(ctx context.Context, destURL, filePath string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
	defer cancel()

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, destURL, file)
	if err != nil {
		return err
	}

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("upload: status %d", resp.StatusCode)
	}

	return nil
}

func (e *Executor) cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			e.logger.Debug().Err(err).Str("path", p).Msg("executor: cleanup failed")
		}
	}
}
