package hostinfo

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCollect(t *testing.T) {
	t.Setenv("CONDA_DEFAULT_ENV", "")

	info := Collect(3)
	if info.User == "" {
		t.Error("user should never be empty")
	}
	if info.Conda != "none" {
		t.Errorf("conda = %q, want none when unset", info.Conda)
	}
	if info.Sessions != 3 {
		t.Errorf("sessions = %d, want 3", info.Sessions)
	}
	if info.Backend != Backend {
		t.Errorf("backend = %q, want %q", info.Backend, Backend)
	}
}

func TestCondaFromEnvironment(t *testing.T) {
	t.Setenv("CONDA_DEFAULT_ENV", "science")
	if got := condaEnv(); got != "science" {
		t.Errorf("conda = %q, want science", got)
	}
}

func TestLines(t *testing.T) {
	info := Info{
		User:      "alice",
		Conda:     "none",
		Load:      "0.42",
		Disk:      "17%",
		SlurmJobs: "N/A",
		Sessions:  2,
		Backend:   Backend,
	}
	out := info.Lines()

	for _, want := range []string{
		"USER:alice\n",
		"CONDA:none\n",
		"LOAD:0.42\n",
		"DISK:17%\n",
		"SLURM_JOBS:N/A\n",
		"SESSIONS:2\n",
		"BACKEND:" + Backend + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestJSONShape(t *testing.T) {
	info := Collect(0)
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"user", "conda", "load", "disk", "slurm_jobs", "sessions", "backend"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("JSON missing key %q", key)
		}
	}
	// Numeric-looking fields stay strings; the consumer tolerates "N/A".
	if _, ok := decoded["load"].(string); !ok {
		t.Errorf("load should serialise as a string, got %T", decoded["load"])
	}
}

func TestSlurmJobsRejectsHostileUser(t *testing.T) {
	// A username with shell metacharacters must never reach an argv.
	if got := slurmJobs("alice; rm -rf /"); got != "N/A" {
		t.Errorf("slurmJobs = %q, want N/A for hostile username", got)
	}
}
