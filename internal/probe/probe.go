// Package probe implements the capability probe (C2): discovering the local
// FFmpeg's encoders, decoders, and hardware accelerators, plus hostname and
// CPU temperature. Every operation here is best-effort — on any failure it
// degrades to an empty string or the -1.0 temperature sentinel, it never
// returns an error to the caller.
package probe

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
)

// temperatureSentinel is returned when CPU temperature cannot be determined.
const temperatureSentinel = -1.0

// codecLine matches an ffmpeg -encoders/-decoders listing row: six capability
// flag characters, whitespace, then the codec token.
var codecLine = regexp.MustCompile(`^\s*\S{6}\s+(\S+)`)

// Prober discovers and caches the local machine's transcoding capabilities.
// Capabilities are probed once per process (spec treats them as immutable
// after startup) via sync.Once, mirroring the teacher's SystemMonitor.
type Prober struct {
	ffmpegPath string
	logger     zerolog.Logger

	once         sync.Once
	encoders     string
	decoders     string
	hwaccels     string
}

// New returns a Prober that shells out to ffmpegPath (normally just
// "ffmpeg", resolved via PATH).
func New(ffmpegPath string, logger zerolog.Logger) *Prober {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Prober{ffmpegPath: ffmpegPath, logger: logger}
}

// warm runs all three listings once and caches the results.
func (p *Prober) warm(ctx context.Context) {
	p.once.Do(func() {
		p.encoders = p.list(ctx, "-encoders")
		p.decoders = p.list(ctx, "-decoders")
		p.hwaccels = p.listHWAccels(ctx)
	})
}

// Encoders returns a comma-joined list of ffmpeg encoder names, or "" if
// ffmpeg could not be invoked.
func (p *Prober) Encoders(ctx context.Context) string {
	p.warm(ctx)
	return p.encoders
}

// Decoders returns a comma-joined list of ffmpeg decoder names, or "" if
// ffmpeg could not be invoked.
func (p *Prober) Decoders(ctx context.Context) string {
	p.warm(ctx)
	return p.decoders
}

// HWAccels returns a comma-joined list of ffmpeg hardware accelerator names,
// or "" if ffmpeg could not be invoked.
func (p *Prober) HWAccels(ctx context.Context) string {
	p.warm(ctx)
	return p.hwaccels
}

func (p *Prober) list(ctx context.Context, flag string) string {
	out, err := p.run(ctx, "-hide_banner", flag)
	if err != nil {
		p.logger.Warn().Err(err).Str("flag", flag).Msg("probe: ffmpeg capability listing failed")
		return ""
	}

	var tokens []string
	for _, line := range strings.Split(out, "\n") {
		if m := codecLine.FindStringSubmatch(line); m != nil {
			tokens = append(tokens, m[1])
		}
	}
	return strings.Join(tokens, ",")
}

// listHWAccels parses `ffmpeg -hwaccels`, whose output is a header line
// followed by one accelerator name per line — no flag column, unlike the
// -encoders/-decoders tables.
func (p *Prober) listHWAccels(ctx context.Context) string {
	out, err := p.run(ctx, "-hide_banner", "-hwaccels")
	if err != nil {
		p.logger.Warn().Err(err).Msg("probe: ffmpeg hwaccel listing failed")
		return ""
	}

	var tokens []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		tokens = append(tokens, line)
	}
	return strings.Join(tokens, ",")
}

func (p *Prober) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// Hostname returns the system hostname, or "unknown" if it cannot be
// determined.
func (p *Prober) Hostname(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info.Hostname == "" {
		p.logger.Warn().Err(err).Msg("probe: hostname lookup failed")
		return "unknown"
	}
	return info.Hostname
}

// CPUTemperature returns the CPU package temperature in Celsius, or the
// sentinel -1.0 if unavailable on this platform. Implemented per-OS in
// probe_linux.go / probe_bsd.go / probe_other.go.
func (p *Prober) CPUTemperature(ctx context.Context) float64 {
	temp, err := readCPUTemperature(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("probe: cpu temperature unavailable")
		return temperatureSentinel
	}
	return temp
}
