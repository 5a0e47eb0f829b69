package obsmode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func baseSetup(app string) Setup {
	return Setup{
		App: AppData{
			App:         app,
			XBin:        2,
			YBin:        2,
			Clear:       true,
			LEDFlash:    false,
			Overscan:    true,
			DummyOut:    1,
			Multipliers: [5]int{1, 2, 3, 4, 5},
			ExpTime:     2.5,
			Readout:     "Slow",
		},
		User: UserData{
			Observers: "TRM",
			Target:    "GW_Lib",
			Filters:   "ugriz",
		},
	}
}

func detParValue(t *testing.T, pars []Param, key string) string {
	t.Helper()
	for _, p := range pars {
		if p.Key == key {
			return p.Value
		}
	}
	t.Fatalf("detector parameter %s not found", key)
	return ""
}

func TestFullFrameReadoutCommand(t *testing.T) {
	mode, err := FromSetup(baseSetup("FullFrame"))
	require.NoError(t, err)
	require.Equal(t, KindFullFrame, mode.Kind())
	require.Equal(t, "setup DET.READ.CURID 1", mode.ReadoutCommand().String())
	require.False(t, mode.StartsSequencer())
}

func TestBaseDetectorParameters(t *testing.T) {
	mode, err := FromSetup(baseSetup("FullFrame"))
	require.NoError(t, err)

	ff := mode.(*FullFrame)
	pars := ff.DetPars()

	require.Equal(t, "2", detParValue(t, pars, "DET.BINX1"))
	require.Equal(t, "T", detParValue(t, pars, "DET.CLRCCD"))
	require.Equal(t, "F", detParValue(t, pars, "DET.EXPLED"))
	require.Equal(t, "T", detParValue(t, pars, "DET.GPS"))
	require.Equal(t, "T", detParValue(t, pars, "DET.INCPRSCX"))
	require.Equal(t, "2.5", detParValue(t, pars, "DET.SEQ.DIT"))

	// NSKIPSn = multiplier - 1.
	require.Equal(t, "0", detParValue(t, pars, "DET.NSKIPS1"))
	require.Equal(t, "1", detParValue(t, pars, "DET.NSKIPS2"))
	require.Equal(t, "4", detParValue(t, pars, "DET.NSKIPS5"))
}

func TestSetupCommandCarriesAllDetPars(t *testing.T) {
	mode, err := FromSetup(baseSetup("FullFrame"))
	require.NoError(t, err)

	cmd := mode.SetupCommand()
	require.Equal(t, "setup", cmd.Name)

	ff := mode.(*FullFrame)
	require.Len(t, cmd.Params, 2*len(ff.DetPars()))
	require.Contains(t, cmd.String(), "DET.BINX1 2")
	require.Contains(t, cmd.String(), "DET.SEQ.DIT 2.5")
}

func TestHeaderCommandsSkipEmptyValues(t *testing.T) {
	mode, err := FromSetup(baseSetup("FullFrame"))
	require.NoError(t, err)

	cmds := mode.HeaderCommands()
	require.Len(t, cmds, 3)
	require.Equal(t, "setup OBSERVER TRM", cmds[0].String())
	require.Equal(t, "setup OBJECT GW_Lib", cmds[1].String())
	require.Equal(t, "setup FILTERS ugriz", cmds[2].String())
}

func TestWindowsOneWindow(t *testing.T) {
	setup := baseSetup("Windows")
	setup.App.X1Size = 100
	setup.App.Y1Size = 80
	setup.App.Y1Start = 11
	setup.App.X1StartLowerLeft = 21
	setup.App.X1StartLowerRight = 1850
	setup.App.X1StartUpperLeft = 21
	setup.App.X1StartUpperRight = 1850

	mode, err := FromSetup(setup)
	require.NoError(t, err)

	win := mode.(*Windows)
	require.False(t, win.TwoWindows())
	require.Equal(t, "setup DET.READ.CURID 2", mode.ReadoutCommand().String())

	pars := win.DetPars()
	require.Equal(t, "20", detParValue(t, pars, "DET.WIN1.XSE"))
	require.Equal(t, "99", detParValue(t, pars, "DET.WIN1.XSF")) // 2049-1850-100
	require.Equal(t, "10", detParValue(t, pars, "DET.WIN1.YS"))
}

func TestWindowsTwoWindows(t *testing.T) {
	setup := baseSetup("Windows")
	setup.App.X1Size = 100
	setup.App.Y1Size = 80
	setup.App.Y1Start = 11
	setup.App.X1StartLowerLeft = 21
	setup.App.X1StartLowerRight = 1850
	setup.App.X1StartUpperLeft = 21
	setup.App.X1StartUpperRight = 1850

	x2 := 50
	setup.App.X2Size = &x2
	setup.App.Y2Size = 40
	setup.App.Y2Start = 201
	setup.App.X2StartLowerLeft = 301
	setup.App.X2StartLowerRight = 1700
	setup.App.X2StartUpperLeft = 301
	setup.App.X2StartUpperRight = 1700

	mode, err := FromSetup(setup)
	require.NoError(t, err)

	win := mode.(*Windows)
	require.True(t, win.TwoWindows())
	require.Equal(t, "setup DET.READ.CURID 3", mode.ReadoutCommand().String())

	pars := win.DetPars()
	require.Equal(t, "50", detParValue(t, pars, "DET.WIN2.NX"))
	require.Equal(t, "300", detParValue(t, pars, "DET.WIN2.XSE"))
	require.Equal(t, "299", detParValue(t, pars, "DET.WIN2.XSF")) // 2049-1700-50
	require.Equal(t, "200", detParValue(t, pars, "DET.WIN2.YS"))
}

func TestDriftWindowStacking(t *testing.T) {
	setup := baseSetup("Drift")
	setup.App.X1Size = 100
	setup.App.Y1Size = 40
	setup.App.Y1Start = 11
	setup.App.X1StartLeft = 51
	setup.App.X1StartLowerRight = 1800
	setup.App.X1StartUpperRight = 1800

	mode, err := FromSetup(setup)
	require.NoError(t, err)

	drift := mode.(*Drift)
	require.Equal(t, "setup DET.READ.CURID 4", mode.ReadoutCommand().String())

	// nrows=520, ny=40: NW = int((520/40 + 1)/2) = 7,
	// PSH = 520 - (2*7-1)*40 = 0.
	require.Equal(t, 7, drift.NumStacked())
	require.Equal(t, 0, drift.PipeShift())

	pars := drift.DetPars()
	require.Equal(t, "7", detParValue(t, pars, "DET.DRWIN.NW"))
	require.Equal(t, "0", detParValue(t, pars, "DET.DRWIN.PSH"))
	require.Equal(t, "50", detParValue(t, pars, "DET.DRWIN.XSE"))
	require.Equal(t, "50", detParValue(t, pars, "DET.DRWIN.XSH"))
}

func TestDriftPipeShiftUnevenWindow(t *testing.T) {
	setup := baseSetup("Drift")
	setup.App.X1Size = 100
	setup.App.Y1Size = 30
	setup.App.Y1Start = 11
	setup.App.X1StartLeft = 51
	setup.App.X1StartLowerRight = 1800
	setup.App.X1StartUpperRight = 1800

	mode, err := FromSetup(setup)
	require.NoError(t, err)

	drift := mode.(*Drift)
	// ny=30: NW = int((520/30 + 1)/2) = int(9.16) = 9,
	// PSH = 520 - 17*30 = 10.
	require.Equal(t, 9, drift.NumStacked())
	require.Equal(t, 10, drift.PipeShift())
}

func TestDriftRejectsZeroHeight(t *testing.T) {
	setup := baseSetup("Drift")
	setup.App.Y1Size = 0
	_, err := FromSetup(setup)
	require.Error(t, err)
}

func TestIdleMode(t *testing.T) {
	idle := NewIdle()
	require.Equal(t, KindIdle, idle.Kind())
	require.True(t, idle.StartsSequencer())

	// Idle clears the chip with GPS timestamping off, full-frame slow
	// readout and a 10s dwell.
	require.Equal(t, "setup DET.READ.CURID 1", idle.ReadoutCommand().String())
	pars := idle.DetPars()
	require.Equal(t, "F", detParValue(t, pars, "DET.GPS"))
	require.Equal(t, "T", detParValue(t, pars, "DET.CLRCCD"))
	require.Equal(t, "10", detParValue(t, pars, "DET.SEQ.DIT"))
	require.Empty(t, idle.HeaderCommands())
}

func TestUnrecognisedModeFails(t *testing.T) {
	_, err := FromSetup(baseSetup("Spectroscopy"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Spectroscopy")
}

func TestUnknownReadoutSpeedFails(t *testing.T) {
	setup := baseSetup("FullFrame")
	setup.App.Readout = "Hyperspeed"
	_, err := FromSetup(setup)
	require.Error(t, err)
}

func TestParseRoundTrip(t *testing.T) {
	payload := []byte(`{
		"appdata": {
			"app": "FullFrame",
			"xbin": 1, "ybin": 1,
			"clear": false,
			"led_flsh": true,
			"oscan": false,
			"multipliers": [1,1,1,1,1],
			"exptime": 0.1,
			"readout": "Fast"
		},
		"user": {"Observers": "SL", "target": "NN_Ser"}
	}`)

	mode, err := Parse(payload)
	require.NoError(t, err)
	require.Equal(t, KindFullFrame, mode.Kind())

	pars := mode.(*FullFrame).DetPars()
	require.Equal(t, "F", detParValue(t, pars, "DET.CLRCCD"))
	require.Equal(t, "T", detParValue(t, pars, "DET.EXPLED"))
	require.Equal(t, "0.1", detParValue(t, pars, "DET.SEQ.DIT"))
}

func TestParseRejectsBadJSON(t *testing.T) {
	_, err := Parse([]byte("{nope"))
	require.Error(t, err)
}
