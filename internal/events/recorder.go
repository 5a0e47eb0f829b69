// Package events records coordinator and sequencer outcomes in the
// observation event log.
package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/hipercam/hdriver/internal/logging"
	"github.com/hipercam/hdriver/internal/models"
	"github.com/hipercam/hdriver/internal/obsmode"
	"github.com/hipercam/hdriver/internal/sequencer"
	"github.com/rs/zerolog"
)

const appendTimeout = 5 * time.Second

// Repository is the minimal interface needed to write events.
type Repository interface {
	Append(ctx context.Context, event *models.Event) error
}

// Recorder satisfies the offsetter and sequencer recorder interfaces,
// writing one log entry per outcome. Append failures are logged, never
// surfaced: the event log must not interfere with observing.
type Recorder struct {
	repo   Repository
	logger zerolog.Logger
}

// NewRecorder creates a Recorder backed by repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logging.Component("events"),
	}
}

// RunDiscovered records a newly discovered run file.
func (r *Recorder) RunDiscovered(path string) {
	r.append(&models.Event{
		Type:       models.EventTypeRunDiscovered,
		EntityType: models.EntityTypeRun,
		EntityID:   filepath.Base(path),
	})
}

// OffsetApplied records one commanded offset, failed sends included.
func (r *Recorder) OffsetApplied(run string, ra, dec float64, sendErr error) {
	payload := models.OffsetPayload{RA: ra, Dec: dec, Run: run}
	eventType := models.EventTypeOffsetApplied
	if sendErr != nil {
		eventType = models.EventTypeOffsetFailed
		payload.Error = sendErr.Error()
	}
	r.append(&models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeTelescope,
		EntityID:   run,
		Payload:    marshal(payload),
	})
}

// TriggerSent records a sequencer resume attempt.
func (r *Recorder) TriggerSent(run string, err error) {
	eventType := models.EventTypeTriggerSent
	var payload json.RawMessage
	if err != nil {
		eventType = models.EventTypeTriggerFailed
		payload = marshal(map[string]string{"error": err.Error()})
	}
	r.append(&models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeRun,
		EntityID:   run,
		Payload:    payload,
	})
}

// SetupApplied records a completed instrument setup.
func (r *Recorder) SetupApplied(mode obsmode.Kind, response string) {
	r.append(&models.Event{
		Type:       models.EventTypeSetupApplied,
		EntityType: models.EntityTypeInstrument,
		EntityID:   string(mode),
		Payload:    marshal(models.SetupPayload{Mode: string(mode), Response: response}),
	})
}

// SetupFailed records an aborted instrument setup and the failing step.
func (r *Recorder) SetupFailed(mode obsmode.Kind, step sequencer.Step, response string) {
	r.append(&models.Event{
		Type:       models.EventTypeSetupFailed,
		EntityType: models.EntityTypeInstrument,
		EntityID:   string(mode),
		Payload: marshal(models.SetupPayload{
			Mode:     string(mode),
			Step:     string(step),
			Response: response,
		}),
	})
}

func (r *Recorder) append(event *models.Event) {
	if r == nil || r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := r.repo.Append(ctx, event); err != nil {
		r.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to record event")
	}
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
