package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// The environment variables that configure a run.
const (
	EnvMonitorPort = "CLOCKSIM_MONITOR_PORT"
	EnvRecordPath  = "CLOCKSIM_RECORD_PATH"
	EnvParallelIDs = "CLOCKSIM_PARALLEL_IDS"
)

// Env holds the settings read from the environment.
type Env struct {
	// MonitorPort is the port of the monitoring server. Zero picks a free
	// port.
	MonitorPort int

	// RecordPath is where results are recorded, without the .sqlite3
	// suffix. Empty picks a unique name.
	RecordPath string

	// ParallelIDs switches callback IDs from sequential to globally unique.
	ParallelIDs bool
}

// LoadEnv loads the given .env files, if they exist, and reads the settings.
// Variables already set in the process take precedence over the files.
func LoadEnv(files ...string) (Env, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}

	if len(existing) > 0 {
		err := godotenv.Load(existing...)
		if err != nil {
			return Env{}, errors.Wrap(err, "failed to load .env")
		}
	}

	return ReadEnv()
}

// ReadEnv reads the settings from the process environment.
func ReadEnv() (Env, error) {
	env := Env{
		RecordPath: os.Getenv(EnvRecordPath),
	}

	if s := os.Getenv(EnvMonitorPort); s != "" {
		port, err := strconv.Atoi(s)
		if err != nil {
			return Env{}, errors.Wrapf(err, "%s", EnvMonitorPort)
		}

		if port < 0 || port > 65535 {
			return Env{}, errors.Errorf("%s: port %d is out of range",
				EnvMonitorPort, port)
		}

		env.MonitorPort = port
	}

	if s := os.Getenv(EnvParallelIDs); s != "" {
		switch strings.ToLower(s) {
		case "1", "true", "yes":
			env.ParallelIDs = true
		case "0", "false", "no":
		default:
			return Env{}, errors.Errorf("%s: cannot parse %q",
				EnvParallelIDs, s)
		}
	}

	return env, nil
}
