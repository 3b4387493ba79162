package cli

// ============================================================================
// Machines configuration: a JSON array of per-worker settings, with a
// "default" pseudo-element supplying fallback values for every other
// element's missing keys.
// ============================================================================

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kssh-dispatch/dispatch/internal/worker"
)

// machineEntry mirrors spec.md §6's machines config schema exactly: a
// required hostname, and optional overrides for everything else.
type machineEntry struct {
	Hostname        string `json:"hostname"`
	Username        string `json:"username"`
	WD              string `json:"wd"`
	ConnectCmd      string `json:"connect_cmd"`
	PollInterval    *int   `json:"poll_interval"`
	PollTimeout     *int   `json:"poll_timeout"`
	UploadTimeout   *int   `json:"upload_timeout"`
	DownloadTimeout *int   `json:"download_timeout"`
	InitTimeout     *int   `json:"init_timeout"`
}

// ErrMissingHostname is returned for any non-default machine entry
// that omits hostname; spec.md §6 treats this as a fatal config error.
var ErrMissingHostname = fmt.Errorf("machines config entry missing required hostname field")

// loadMachines reads and parses the machines JSON config, applies the
// "default" element's overrides to every other element's missing
// fields, and builds one worker.Worker per surviving entry.
func loadMachines(path string) ([]*worker.Worker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read machines config %s: %w", path, err)
	}

	var entries []machineEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse machines config %s: %w", path, err)
	}

	var defaults *machineEntry
	var rest []machineEntry
	for _, e := range entries {
		if e.Hostname == "default" {
			d := e
			defaults = &d
			continue
		}
		rest = append(rest, e)
	}

	workers := make([]*worker.Worker, 0, len(rest))
	for _, e := range rest {
		if e.Hostname == "" {
			return nil, ErrMissingHostname
		}
		applyDefaults(&e, defaults)
		workers = append(workers, buildWorker(e))
	}
	return workers, nil
}

// applyDefaults copies every field the default element sets and the
// specific element leaves unset. Hostname is never defaulted: each
// non-default element must name itself.
func applyDefaults(e, defaults *machineEntry) {
	if defaults == nil {
		return
	}
	if e.Username == "" {
		e.Username = defaults.Username
	}
	if e.WD == "" {
		e.WD = defaults.WD
	}
	if e.ConnectCmd == "" {
		e.ConnectCmd = defaults.ConnectCmd
	}
	if e.PollInterval == nil {
		e.PollInterval = defaults.PollInterval
	}
	if e.PollTimeout == nil {
		e.PollTimeout = defaults.PollTimeout
	}
	if e.UploadTimeout == nil {
		e.UploadTimeout = defaults.UploadTimeout
	}
	if e.DownloadTimeout == nil {
		e.DownloadTimeout = defaults.DownloadTimeout
	}
	if e.InitTimeout == nil {
		e.InitTimeout = defaults.InitTimeout
	}
}

func buildWorker(e machineEntry) *worker.Worker {
	wd := e.WD
	if wd == "" {
		wd = "."
	}
	w := worker.New(e.Hostname, e.Username, wd, e.ConnectCmd)

	w.PollInterval = secondsOr(e.PollInterval, 10)
	w.PollTimeout = secondsOr(e.PollTimeout, 5)
	w.UploadTimeout = secondsOr(e.UploadTimeout, 20)
	w.DownloadTimeout = secondsOr(e.DownloadTimeout, 20)
	w.InitTimeout = secondsOr(e.InitTimeout, 20)
	return w
}

func secondsOr(v *int, fallback int) time.Duration {
	if v == nil {
		return time.Duration(fallback) * time.Second
	}
	return time.Duration(*v) * time.Second
}
