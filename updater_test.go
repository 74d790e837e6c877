package main

import (
	"regexp"
	"runtime"
	"runtime/debug"
	"testing"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestUpdateBlockedByBusyBridge(t *testing.T) {
	a := newTestApp(t, "")
	b, _, err := a.Bridge()
	require.NoError(t, err)
	assert.NoError(t, a.UpdateBlocker())

	require.NoError(t, b.Provisioner().Start(provision.TypeControl))
	assert.ErrorIs(t, a.UpdateBlocker(), ErrUpdateDeferred)
	require.NoError(t, b.Provisioner().Stop())
	assert.NoError(t, a.UpdateBlocker())

	// A join waiting for association.
	b.Link().TransitionTo(bridge.StateAssociating)
	assert.ErrorIs(t, a.UpdateBlocker(), ErrUpdateDeferred)
	b.Link().TransitionTo(bridge.StateDisassociated)
	assert.NoError(t, a.UpdateBlocker())

	a.StopBridge()
	assert.NoError(t, a.UpdateBlocker())
}

func TestUpdateDeferredWhileProvisioning(t *testing.T) {
	a := newTestApp(t, "")
	b, _, err := a.Bridge()
	require.NoError(t, err)
	require.NoError(t, b.Provisioner().Start(provision.TypeControl))

	stopped := false
	c := &UpdateConfig{Owner: "grmrgecko", Repo: serviceName}
	prepareUpdate(c, false)
	c.PreUpdate = func() {
		stopped = true
	}

	res, err := Update(c)
	assert.ErrorIs(t, err, ErrUpdateDeferred)
	assert.Equal(t, UpdateDeferred, res.Outcome)
	assert.Equal(t, serviceVersion, res.Version)
	assert.False(t, stopped, "bridge left running")
	assert.Equal(t, bridge.StateProvisioning, b.Link().State())
	assert.Equal(t, deferredUpdateRetry, nextUpdateCheck(res))
}

func TestUpdateOutcomeInStatus(t *testing.T) {
	a := newTestApp(t, "")
	c := newTestClient(t, a)

	a.StatusCache().UpdateFinished(UpdateResult{
		Outcome: UpdateDeferred,
		Version: serviceVersion,
		Err:     ErrUpdateDeferred,
	})

	r, err := c.Call(testContext(t), "Status", nil)
	require.NoError(t, err)
	update := r.GetFields()["last_update"].GetStructValue()
	require.NotNil(t, update)
	assert.Equal(t, "deferred", fieldString(update, "outcome"))
	assert.Equal(t, serviceVersion, fieldString(update, "version"))
	assert.Equal(t, ErrUpdateDeferred.Error(), fieldString(update, "error"))
}

func TestUpdateSuccessWaitsForBridge(t *testing.T) {
	c := new(UpdateConfig)
	prepareUpdate(c, true)
	assert.Equal(t, bridgeReadyTimeout, c.StartupTimeout)
	assert.False(t, c.IsSuccessMsg(`level=info msg="Service started."`))
	assert.True(t, c.IsSuccessMsg(`level=info msg="`+bridgeReadyMsg+`"`))
}

func TestAnnounceBridgeReady(t *testing.T) {
	a := newTestApp(t, "")
	done := make(chan struct{})
	go func() {
		a.announceBridgeReady(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("announce did not return for a started bridge")
	}
}

func TestNextUpdateCheck(t *testing.T) {
	next := nextUpdateCheck(UpdateResult{Outcome: UpdateCurrent})
	assert.GreaterOrEqual(t, next, 24*time.Hour)
	assert.Less(t, next, 29*time.Hour)
	assert.Equal(t, deferredUpdateRetry, nextUpdateCheck(UpdateResult{Outcome: UpdateDeferred}))
}

func TestReleaseAssetFilter(t *testing.T) {
	re := regexp.MustCompile(releaseAssetFilter())
	assert.True(t, re.MatchString("wifi-ncm-bridge_0.2.0_linux_arm64.tar.gz"))
	assert.True(t, re.MatchString("wifi-ncm-bridge-linux-armv7.gz"))
	assert.False(t, re.MatchString("checksums.txt"))
	assert.False(t, re.MatchString("virtual-vxlan_0.2.0_linux_arm64.tar.gz"))
}

func TestUpdaterConfigTargetsPlatform(t *testing.T) {
	config := updaterConfig(nil, "/tmp/.old")
	assert.Equal(t, runtime.GOOS, config.OS)
	assert.Equal(t, runtime.GOARCH, config.Arch)
	assert.Equal(t, []string{releaseAssetFilter()}, config.Filters)
	assert.Equal(t, "/tmp/.old", config.OldSavePath)
}

func TestArmVersion(t *testing.T) {
	tests := []struct {
		settings []debug.BuildSetting
		want     uint8
	}{
		{nil, 0},
		{[]debug.BuildSetting{{Key: "GOARCH", Value: "arm"}, {Key: "GOARM", Value: "7"}}, 7},
		{[]debug.BuildSetting{{Key: "GOARM", Value: "6,softfloat"}}, 6},
		{[]debug.BuildSetting{{Key: "GOARM", Value: "x"}}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, armVersion(tt.settings))
	}
}

func TestUpdateFields(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s, err := structpb.NewStruct(updateFields(UpdateResult{Outcome: UpdateApplied, Version: "0.2.0", At: at}))
	require.NoError(t, err)
	assert.Equal(t, "applied", fieldString(s, "outcome"))
	assert.Equal(t, "0.2.0", fieldString(s, "version"))
	assert.Equal(t, "2026-01-02T03:04:05Z", fieldString(s, "at"))
	assert.Empty(t, fieldString(s, "error"))
}
