package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
)

// Returned when the bridge is in the middle of something an update would cut off.
var ErrUpdateDeferred = errors.New("update deferred")

// Logged by the server once the relaunched bridge has its station up.
const bridgeReadyMsg = "Bridge station started."

// How long a relaunched bridge gets to bring its station up.
const bridgeReadyTimeout = 2 * time.Minute

// How soon a deferred update is tried again.
const deferredUpdateRetry = 15 * time.Minute

// Outcome of an update check.
type UpdateOutcome int

const (
	UpdateCurrent UpdateOutcome = iota
	UpdateDeferred
	UpdateApplied
	UpdateFailed
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateCurrent:
		return "current"
	case UpdateDeferred:
		return "deferred"
	case UpdateApplied:
		return "applied"
	case UpdateFailed:
		return "failed"
	}
	return "unknown"
}

// Result of an update check, kept for status calls.
type UpdateResult struct {
	Outcome UpdateOutcome
	Version string
	Err     error
	At      time.Time
}

// Refuse an update while provisioning listens or a join is in flight.
func bridgeBusy(b *bridge.Bridge) error {
	if b == nil {
		return nil
	}
	if b.Provisioner().Listening() {
		return fmt.Errorf("%w: provisioning session is listening", ErrUpdateDeferred)
	}
	switch b.Link().State() {
	case bridge.StateAssociating:
		return fmt.Errorf("%w: join in progress", ErrUpdateDeferred)
	case bridge.StateProvisioning:
		return fmt.Errorf("%w: link held for provisioning", ErrUpdateDeferred)
	}
	return nil
}

// Check whether the running bridge can be taken down for an update.
func (a *App) UpdateBlocker() error {
	a.Lock()
	b := a.bridge
	a.Unlock()
	return bridgeBusy(b)
}

// Get the ARM version this binary was built for, 0 when unknown.
func armVersion(settings []debug.BuildSetting) uint8 {
	for _, s := range settings {
		if s.Key != "GOARM" {
			continue
		}
		// Values may carry a float suffix, such as 7,softfloat.
		v, err := strconv.ParseUint(strings.SplitN(s.Value, ",", 2)[0], 10, 8)
		if err != nil {
			return 0
		}
		return uint8(v)
	}
	return 0
}

// Pattern for release assets of this service.
func releaseAssetFilter() string {
	return fmt.Sprintf("^%s[_-]", regexp.QuoteMeta(serviceName))
}

// Make the updater config for the platform this binary runs on. Boards
// differ by arch and ARM version, so both are pinned.
func updaterConfig(source selfupdate.Source, oldSavePath string) selfupdate.Config {
	config := selfupdate.Config{
		Source:      source,
		Validator:   &selfupdate.ChecksumValidator{UniqueFilename: "checksums.txt"},
		Filters:     []string{releaseAssetFilter()},
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		OldSavePath: oldSavePath,
	}
	if runtime.GOARCH == "arm" {
		if info, ok := debug.ReadBuildInfo(); ok {
			config.Arm = armVersion(info.Settings)
		}
	}
	return config
}

// Copy process output to w and report when match accepts a line.
func watchOutput(r io.Reader, w io.Writer, match func(string) bool, ready chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(w, line)
		if match(line) {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	}
}

// Start the updated binary and wait for its bridge to come up. On success
// the new process is left running.
func relaunch(c *UpdateConfig, exe string) (*exec.Cmd, error) {
	log.Println("Starting new process.")
	p := exec.Command(exe, os.Args[1:]...)
	p.Env = append(os.Environ(), "UPDATER_UPDATE=1")
	stdout, err := p.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := p.StderrPipe()
	if err != nil {
		return nil, err
	}
	err = p.Start()
	if err != nil {
		return nil, err
	}

	// Kill the process if the bridge does not come up in time.
	timer := time.AfterFunc(c.StartupTimeout, func() {
		p.Process.Kill()
	})
	defer timer.Stop()

	ready := make(chan struct{}, 1)
	exited := make(chan error, 1)
	go watchOutput(stdout, os.Stdout, c.IsSuccessMsg, ready)
	go watchOutput(stderr, os.Stderr, c.IsSuccessMsg, ready)
	go func() {
		exited <- p.Wait()
	}()

	select {
	case <-ready:
		return p, nil
	case err = <-exited:
		if err == nil {
			err = errors.New("program exited before the bridge started")
		}
		return nil, err
	}
}

// Check for an update and apply it if one is available.
func Update(c *UpdateConfig) (res UpdateResult, err error) {
	res.Version = c.CurrentVersion
	defer func() {
		res.Err = err
		res.At = time.Now()
	}()

	// Leave a busy bridge alone.
	if c.Busy != nil {
		err = c.Busy()
		if err != nil {
			res.Outcome = UpdateDeferred
			return
		}
	}

	log.Println("Checking for update.")
	res.Outcome = UpdateFailed
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return
	}
	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		err = fmt.Errorf("could not locate executable path: %s", err)
		return
	}
	updateDir, cmd := filepath.Split(exe)
	oldSavePath := filepath.Join(updateDir, fmt.Sprintf(".%s.old", cmd))

	updater, err := selfupdate.NewUpdater(updaterConfig(source, oldSavePath))
	if err != nil {
		return
	}
	release, found, err := updater.DetectLatest(context.Background(), selfupdate.NewRepositorySlug(c.Owner, c.Repo))
	if err != nil {
		return
	}
	if !found {
		log.Println("No updates available.")
		res.Outcome = UpdateCurrent
		return
	}

	thisVersion, err := version.NewVersion(c.CurrentVersion)
	if err != nil {
		return
	}
	latestVersion, err := version.NewVersion(release.Version())
	if err != nil {
		return
	}
	if !thisVersion.LessThan(latestVersion) {
		log.Println("No updates available.")
		res.Outcome = UpdateCurrent
		return
	}
	res.Version = release.Version()
	log.Printf("Updating to version %s from %s.", release.Version(), release.AssetURL)

	// Release the radio and host link before swapping binaries.
	if c.PreUpdate != nil {
		c.PreUpdate()
	}
	err = updater.UpdateTo(context.Background(), release, exe)

	var p *exec.Cmd
	if err == nil && c.ShouldRelaunch {
		p, err = relaunch(c, exe)
	}
	if err != nil {
		rerr := os.Rename(oldSavePath, exe)
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			log.Println("Failed to rollback update:", rerr)
		}
		if c.AbortUpdate != nil {
			c.AbortUpdate()
		}
		return
	}
	log.Println("Updated.")
	os.Remove(oldSavePath)
	res.Outcome = UpdateApplied

	if p != nil {
		// Hand the new process our stdio and let systemd watch it instead.
		p.Stdout = os.Stdout
		p.Stderr = os.Stderr
		p.Stdin = os.Stdin
		daemon.SdNotify(false, fmt.Sprintf("MAINPID=%d", p.Process.Pid))
		os.Exit(0)
	}
	return
}

// Wire the update hooks to the running app.
func prepareUpdate(c *UpdateConfig, restart bool) {
	c.CurrentVersion = serviceVersion
	c.ShouldRelaunch = restart
	c.StartupTimeout = bridgeReadyTimeout
	c.IsSuccessMsg = func(msg string) bool {
		return strings.Contains(msg, bridgeReadyMsg)
	}
	c.Busy = func() error {
		if app == nil {
			return nil
		}
		return app.UpdateBlocker()
	}
	c.PreUpdate = func() {
		if app == nil {
			return
		}
		app.StopMetrics()
		app.StopBridge()
		if app.grpcServer != nil {
			app.grpcServer.Close()
		}
	}
	c.AbortUpdate = func() {
		if app == nil {
			return
		}
		config := ReadConfig()
		_, err := NewGRPCServer(config.RPCPath)
		if err != nil {
			log.Fatalln(err)
		}

		// We cannot run without the bridge.
		err = app.StartBridge(config)
		if err != nil {
			log.Fatalln(err)
		}
		err = app.StartMetrics(config)
		if err != nil {
			log.Error("Failed to start metrics:", err)
		}
	}
}

// Check for updates, apply, and record the outcome.
func CheckForUpdate(c *UpdateConfig, restart bool) UpdateResult {
	prepareUpdate(c, restart)
	res, err := Update(c)
	switch {
	case errors.Is(err, ErrUpdateDeferred):
		log.Printf("Update check skipped: %v", err)
	case err != nil:
		log.Println("Failure checking for update:", err)
	}
	if app != nil {
		if cache := app.StatusCache(); cache != nil {
			cache.UpdateFinished(res)
		}
	}
	return res
}

// Time until the next update check.
func nextUpdateCheck(res UpdateResult) time.Duration {
	if res.Outcome == UpdateDeferred {
		return deferredUpdateRetry
	}
	return 24*time.Hour + time.Duration(rand.Intn(18000))*time.Second
}

// Check for updates about once a day.
func (a *App) RunUpdateLoop() {
	if a.UpdateConfig == nil || a.UpdateConfig.Disabled {
		return
	}

	// Randomly check for updates at first start.
	res := UpdateResult{Outcome: UpdateCurrent}
	if os.Getenv("UPDATER_UPDATE") != "1" && rand.Intn(20) == 2 {
		res = CheckForUpdate(a.UpdateConfig, true)
	}
	for {
		time.Sleep(nextUpdateCheck(res))
		res = CheckForUpdate(a.UpdateConfig, true)
	}
}

// Log once the bridge station is up, which tells an updating parent
// process that this one works.
func (a *App) announceBridgeReady(timeout time.Duration) {
	a.Lock()
	b := a.bridge
	a.Unlock()
	if b == nil {
		return
	}
	if !b.Link().AwaitStarted(context.Background(), timeout) {
		log.Warn("Bridge station did not start in time.")
		return
	}
	log.Println(bridgeReadyMsg)
}
