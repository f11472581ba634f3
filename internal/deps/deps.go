package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"vidpipe/internal/config"
)

const versionTimeout = 5 * time.Second

// Requirement defines an external dependency vidpipe relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// VersionArg, when set, is passed to the binary to report its version.
	VersionArg string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Version     string
	Detail      string
}

// Requirements lists the external tools the media workers execute.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpeg.Binary,
			Description: "Required for HLS transcoding and frame extraction",
			VersionArg:  "-version",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFmpeg.FFprobeBinary,
			Description: "Used to pick the thumbnail timestamp",
			Optional:    true,
			VersionArg:  "-version",
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		if req.VersionArg != "" {
			version, err := Version(ctx, resolved, req.VersionArg)
			if err != nil {
				status.Detail = fmt.Sprintf("version probe failed: %v", err)
			}
			status.Version = version
		}
		results = append(results, status)
	}
	return results
}

// Version runs the binary with arg and returns the first line of its output.
func Version(ctx context.Context, binary, arg string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, binary, arg).Output()
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", nil
}
