// Package obsmode converts JSON-encoded instrument setups into the ordered
// command sets needed to drive the camera into a given observation mode.
//
// A mode carries four things: the readout-mode selection command, the
// acquisition-application selection command, the user header commands and
// the final detector setup command. The Idle mode additionally obliges the
// caller to force-start the exposure sequencer, since no run start follows
// an idle setup.
package obsmode

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hipercam/hdriver/internal/models"
)

// Kind names an observation mode variant.
type Kind string

const (
	KindFullFrame Kind = "FullFrame"
	KindWindows   Kind = "Windows"
	KindDrift     Kind = "Drift"
	KindIdle      Kind = "Idle"
)

// Readout mode IDs in the NGC readout table.
const (
	readoutFullFrame  = 1
	readoutOneWindow  = 2
	readoutTwoWindows = 3
	readoutDrift      = 4
)

// nrows is the height of the frame transfer area, used to derive the drift
// mode window stacking.
const nrows = 520

// Param is one detector or header parameter as sent to the control system.
type Param struct {
	Key   string
	Value string
}

// Mode is the closed set of observation modes. Implementations live in this
// package only.
type Mode interface {
	// Kind reports the mode variant.
	Kind() Kind

	// ReadoutCommand selects the readout mode in the NGC readout table.
	ReadoutCommand() models.Command

	// AcquisitionCommand selects the acquisition application.
	AcquisitionCommand() models.Command

	// HeaderCommands returns the user header commands, in order. Empty
	// header values are skipped.
	HeaderCommands() []models.Command

	// SetupCommand returns the final detector setup command carrying every
	// detector parameter.
	SetupCommand() models.Command

	// StartsSequencer reports whether the mode must force-start the
	// exposure sequencer after setup. True only for Idle.
	StartsSequencer() bool

	sealed()
}

// Setup is the JSON payload describing a desired instrument configuration,
// as posted by the GUI or any other controller.
type Setup struct {
	App  AppData  `json:"appdata"`
	User UserData `json:"user"`
}

// AppData holds the application parameters of a setup.
type AppData struct {
	App         string  `json:"app"`
	XBin        int     `json:"xbin"`
	YBin        int     `json:"ybin"`
	Clear       bool    `json:"clear"`
	LEDFlash    bool    `json:"led_flsh"`
	Overscan    bool    `json:"oscan"`
	DummyOut    int     `json:"dummy_out"`
	Multipliers [5]int  `json:"multipliers"`
	ExpTime     float64 `json:"exptime"`
	Readout     string  `json:"readout"`

	// Window geometry (Windows and Drift modes).
	X1Size            int  `json:"x1size"`
	Y1Size            int  `json:"y1size"`
	Y1Start           int  `json:"y1start"`
	X1StartLowerLeft  int  `json:"x1start_lowerleft"`
	X1StartLowerRight int  `json:"x1start_lowerright"`
	X1StartUpperLeft  int  `json:"x1start_upperleft"`
	X1StartUpperRight int  `json:"x1start_upperright"`
	X1StartLeft       int  `json:"x1start_left"`
	X2Size            *int `json:"x2size,omitempty"`
	Y2Size            int  `json:"y2size"`
	Y2Start           int  `json:"y2start"`
	X2StartLowerLeft  int  `json:"x2start_lowerleft"`
	X2StartLowerRight int  `json:"x2start_lowerright"`
	X2StartUpperLeft  int  `json:"x2start_upperleft"`
	X2StartUpperRight int  `json:"x2start_upperright"`
}

// UserData holds the observer-supplied header values of a setup.
type UserData struct {
	Observers string `json:"Observers"`
	Target    string `json:"target"`
	Comment   string `json:"comment"`
	Flags     string `json:"flags"`
	Filters   string `json:"filters"`
	ProgramID string `json:"ID"`
	PI        string `json:"PI"`
}

// Parse decodes a JSON setup payload and builds the corresponding mode.
func Parse(data []byte) (Mode, error) {
	var setup Setup
	if err := json.Unmarshal(data, &setup); err != nil {
		return nil, fmt.Errorf("decode setup payload: %w", err)
	}
	return FromSetup(setup)
}

// FromSetup builds the mode selected by the setup's application name.
func FromSetup(setup Setup) (Mode, error) {
	switch Kind(setup.App.App) {
	case KindFullFrame:
		return newFullFrame(setup)
	case KindWindows:
		return newWindows(setup)
	case KindDrift:
		return newDrift(setup)
	case KindIdle:
		return NewIdle(), nil
	default:
		return nil, fmt.Errorf("unrecognised mode: %q", setup.App.App)
	}
}

// base carries the parameter sets shared by every mode.
type base struct {
	kind      Kind
	readoutID int
	detpars   []Param
	userpars  []Param
}

func (b *base) sealed() {}

func (b *base) Kind() Kind { return b.kind }

func (b *base) ReadoutCommand() models.Command {
	return models.Command{
		Name:   "setup",
		Params: []string{"DET.READ.CURID", strconv.Itoa(b.readoutID)},
	}
}

func (b *base) AcquisitionCommand() models.Command {
	return models.Command{
		Name:   "setup",
		Params: []string{"DET.ACQ.APP", string(b.kind)},
	}
}

func (b *base) HeaderCommands() []models.Command {
	cmds := make([]models.Command, 0, len(b.userpars))
	for _, p := range b.userpars {
		if p.Value == "" {
			continue
		}
		cmds = append(cmds, models.Command{Name: "setup", Params: []string{p.Key, p.Value}})
	}
	return cmds
}

func (b *base) SetupCommand() models.Command {
	params := make([]string, 0, 2*len(b.detpars))
	for _, p := range b.detpars {
		params = append(params, p.Key, p.Value)
	}
	return models.Command{Name: "setup", Params: params}
}

func (b *base) StartsSequencer() bool { return false }

// DetPars returns a copy of the detector parameters, in command order.
func (b *base) DetPars() []Param {
	out := make([]Param, len(b.detpars))
	copy(out, b.detpars)
	return out
}

func flag(v bool) string {
	if v {
		return "T"
	}
	return "F"
}

func itoa(v int) string { return strconv.Itoa(v) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// newBase builds the detector and header parameters common to all modes.
func newBase(kind Kind, setup Setup) *base {
	app := setup.App
	user := setup.User

	detpars := []Param{
		{"DET.BINX1", itoa(app.XBin)},
		{"DET.BINY1", itoa(app.YBin)},
		{"DET.CLRCCD", flag(app.Clear)},
		{"DET.NCLRS", "1"},
		{"DET.DUMMY", itoa(app.DummyOut)},
		{"DET.EXPLED", flag(app.LEDFlash)},
		{"DET.GPS", "T"},
		{"DET.INCPRSCX", flag(app.Overscan)},
		{"DET.NSKIPS1", itoa(app.Multipliers[0] - 1)},
		{"DET.NSKIPS2", itoa(app.Multipliers[1] - 1)},
		{"DET.NSKIPS3", itoa(app.Multipliers[2] - 1)},
		{"DET.NSKIPS4", itoa(app.Multipliers[3] - 1)},
		{"DET.NSKIPS5", itoa(app.Multipliers[4] - 1)},
		{"DET.SEQ.DIT", ftoa(app.ExpTime)},
	}

	userpars := []Param{
		{"OBSERVER", user.Observers},
		{"OBJECT", user.Target},
		{"RUNCOM", user.Comment},
		{"IMAGETYP", user.Flags},
		{"FILTERS", user.Filters},
		{"PROGRM", user.ProgramID},
		{"PI", user.PI},
	}

	return &base{kind: kind, detpars: detpars, userpars: userpars}
}

func (b *base) setDetPar(key, value string) {
	for i := range b.detpars {
		if b.detpars[i].Key == key {
			b.detpars[i].Value = value
			return
		}
	}
	b.detpars = append(b.detpars, Param{key, value})
}

func checkReadoutSpeed(speed string) error {
	switch speed {
	case "Slow", "Medium", "Fast":
		return nil
	default:
		return fmt.Errorf("unknown readout speed: %q", speed)
	}
}

// FullFrame reads out the whole chip.
type FullFrame struct{ *base }

func newFullFrame(setup Setup) (*FullFrame, error) {
	if err := checkReadoutSpeed(setup.App.Readout); err != nil {
		return nil, err
	}
	b := newBase(KindFullFrame, setup)
	b.readoutID = readoutFullFrame
	return &FullFrame{b}, nil
}

// Windows reads out one or two windowed regions per quadrant.
type Windows struct {
	*base
	twoWindows bool
}

func newWindows(setup Setup) (*Windows, error) {
	if err := checkReadoutSpeed(setup.App.Readout); err != nil {
		return nil, err
	}

	app := setup.App
	b := newBase(KindWindows, setup)

	// Window starts are 1-indexed in the setup payload; the controller
	// wants 0-indexed starts, with the right-hand quadrants reflected
	// about the chip centre (2048 active columns).
	b.setDetPar("DET.WIN1.NX", itoa(app.X1Size))
	b.setDetPar("DET.WIN1.NY", itoa(app.Y1Size))
	b.setDetPar("DET.WIN1.XSE", itoa(app.X1StartLowerLeft-1))
	b.setDetPar("DET.WIN1.XSF", itoa(2049-app.X1StartLowerRight-app.X1Size))
	b.setDetPar("DET.WIN1.XSG", itoa(2049-app.X1StartUpperRight-app.X1Size))
	b.setDetPar("DET.WIN1.XSH", itoa(app.X1StartUpperLeft-1))
	b.setDetPar("DET.WIN1.YS", itoa(app.Y1Start-1))

	two := app.X2Size != nil
	if two {
		b.setDetPar("DET.WIN2.NX", itoa(*app.X2Size))
		b.setDetPar("DET.WIN2.NY", itoa(app.Y2Size))
		b.setDetPar("DET.WIN2.XSE", itoa(app.X2StartLowerLeft-1))
		b.setDetPar("DET.WIN2.XSF", itoa(2049-app.X2StartLowerRight-*app.X2Size))
		b.setDetPar("DET.WIN2.XSG", itoa(2049-app.X2StartUpperRight-*app.X2Size))
		b.setDetPar("DET.WIN2.XSH", itoa(app.X2StartUpperLeft-1))
		b.setDetPar("DET.WIN2.YS", itoa(app.Y2Start-1))
		b.readoutID = readoutTwoWindows
	} else {
		b.readoutID = readoutOneWindow
	}

	return &Windows{base: b, twoWindows: two}, nil
}

// TwoWindows reports whether the mode reads out a second window pair.
func (w *Windows) TwoWindows() bool { return w.twoWindows }

// Drift reads out a single small window in drift mode, stacking windows in
// the frame transfer area between reads.
type Drift struct {
	*base
	numStacked int
	pipeShift  int
}

func newDrift(setup Setup) (*Drift, error) {
	if err := checkReadoutSpeed(setup.App.Readout); err != nil {
		return nil, err
	}

	app := setup.App
	if app.Y1Size <= 0 {
		return nil, fmt.Errorf("drift mode needs a positive window height, got %d", app.Y1Size)
	}

	b := newBase(KindDrift, setup)
	b.readoutID = readoutDrift
	b.setDetPar("DET.DRWIN.NX", itoa(app.X1Size))
	b.setDetPar("DET.DRWIN.NY", itoa(app.Y1Size))
	b.setDetPar("DET.DRWIN.YS", itoa(app.Y1Start-1))
	b.setDetPar("DET.DRWIN.XSE", itoa(app.X1StartLeft-1))
	b.setDetPar("DET.DRWIN.XSF", itoa(2049-app.X1StartLowerRight-app.X1Size))
	b.setDetPar("DET.DRWIN.XSH", itoa(app.X1StartLeft-1))
	b.setDetPar("DET.DRWIN.XSG", itoa(2049-app.X1StartUpperRight-app.X1Size))

	ns := numStacked(app.Y1Size)
	ps := pipeShift(app.Y1Size, ns)
	b.setDetPar("DET.DRWIN.NW", itoa(ns))
	b.setDetPar("DET.DRWIN.PSH", itoa(ps))

	return &Drift{base: b, numStacked: ns, pipeShift: ps}, nil
}

// NumStacked is the number of windows stacked in the frame transfer area.
func (d *Drift) NumStacked() int { return d.numStacked }

// PipeShift is the extra shift, in vertical clocks, added to some windows
// to ensure uniform exposure time.
func (d *Drift) PipeShift() int { return d.pipeShift }

func numStacked(ny int) int {
	return int((float64(nrows)/float64(ny) + 1) / 2)
}

func pipeShift(ny, ns int) int {
	return nrows - (2*ns-1)*ny
}

// Idle keeps the chip clearing with GPS timestamping off. Applying it must
// be followed by a forced sequencer start, since no run start will come.
type Idle struct{ *base }

// NewIdle builds the fixed idle configuration.
func NewIdle() *Idle {
	setup := Setup{
		App: AppData{
			XBin:        1,
			YBin:        1,
			Clear:       true,
			Multipliers: [5]int{1, 1, 1, 1, 1},
			ExpTime:     10,
		},
	}
	b := newBase(KindIdle, setup)
	b.readoutID = readoutFullFrame
	b.setDetPar("DET.GPS", "F")
	return &Idle{b}
}

func (i *Idle) StartsSequencer() bool { return true }
