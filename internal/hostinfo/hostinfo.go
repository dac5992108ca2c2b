// Package hostinfo gathers the host telemetry reported by `moor info`.
//
// Every string field tolerates failure by reporting "N/A"; the front-end
// consuming this output treats the fields as opaque strings and must not
// infer host health from any single one.
package hostinfo

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"

	"go.mkern.dev/moor/internal/registry"
)

// Backend identifies this implementation to front-ends.
const Backend = "moor"

const unavailable = "N/A"

// Info is the fixed set of host signals.
type Info struct {
	User      string `json:"user"`
	Conda     string `json:"conda"`
	Load      string `json:"load"`
	Disk      string `json:"disk"`
	SlurmJobs string `json:"slurm_jobs"`
	Sessions  int    `json:"sessions"`
	Backend   string `json:"backend"`
}

// Collect gathers all host signals. sessions is the current live-session
// count from the registry.
func Collect(sessions int) Info {
	username := currentUser()
	return Info{
		User:      username,
		Conda:     condaEnv(),
		Load:      loadAverage(),
		Disk:      homeDiskUsage(),
		SlurmJobs: slurmJobs(username),
		Sessions:  sessions,
		Backend:   Backend,
	}
}

// Lines renders the stable KEY:VALUE form the front-end parses.
func (i Info) Lines() string {
	var b strings.Builder
	fmt.Fprintf(&b, "USER:%s\n", i.User)
	fmt.Fprintf(&b, "CONDA:%s\n", i.Conda)
	fmt.Fprintf(&b, "LOAD:%s\n", i.Load)
	fmt.Fprintf(&b, "DISK:%s\n", i.Disk)
	fmt.Fprintf(&b, "SLURM_JOBS:%s\n", i.SlurmJobs)
	fmt.Fprintf(&b, "SESSIONS:%d\n", i.Sessions)
	fmt.Fprintf(&b, "BACKEND:%s\n", i.Backend)
	return b.String()
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return unavailable
}

func condaEnv() string {
	if env := os.Getenv("CONDA_DEFAULT_ENV"); env != "" {
		return env
	}
	return "none"
}

func loadAverage() string {
	avg, err := load.Avg()
	if err != nil {
		return unavailable
	}
	return fmt.Sprintf("%.2f", avg.Load1)
}

func homeDiskUsage() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return unavailable
	}
	usage, err := disk.Usage(home)
	if err != nil {
		return unavailable
	}
	return fmt.Sprintf("%.0f%%", usage.UsedPercent)
}

// slurmJobs counts the user's queued and running SLURM jobs. squeue is
// exec'd directly — never through a shell — and the username, which comes
// from the environment, must pass the session-name character whitelist
// first so nothing meta ever reaches an argv.
func slurmJobs(username string) string {
	if !registry.ValidName(username) {
		return unavailable
	}
	out, err := exec.Command("squeue", "-u", username, "-h").Output()
	if err != nil {
		return unavailable
	}
	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return fmt.Sprintf("%d", count)
}
