package runner

import (
	"context"
	"errors"

	"github.com/Capitan-Parrot/firewatch/internal/audio"
	"github.com/Capitan-Parrot/firewatch/internal/kafka"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const reasonRemoteStop = "remote stop command"

type CommandSource interface {
	Messages() <-chan kafka.Message
}

// ListenAndRun applies remote start/stop commands until ctx is done or the source closes.
// A command is acknowledged once handled; a declined alarm counts as handled.
func (r *Runner) ListenAndRun(ctx context.Context, source CommandSource) {
	r.logger.Info("listening for remote commands")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("command listener shutting down")
			return
		case msg, ok := <-source.Messages():
			if !ok {
				return
			}

			var cmd models.PipelineCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				r.logger.Warn("invalid command format", zap.Error(err))
				continue
			}
			r.logger.Info("received command", zap.String("action", string(cmd.Action)), zap.String("device", cmd.DeviceID))

			var processErr error
			switch cmd.Action {
			case models.CommandStart:
				processErr = r.Start(ctx, cmd.DeviceID, audio.StaticGate(cmd.ArmAudio))
				if errors.Is(processErr, models.ErrPermissionDenied) {
					processErr = nil
				}
			case models.CommandStop:
				r.Stop(reasonRemoteStop)
			default:
				r.logger.Warn("unknown command", zap.String("action", string(cmd.Action)))
			}

			if processErr != nil {
				r.logger.Error("command failed", zap.Error(processErr))
				continue
			}

			msg.Ack()
		}
	}
}
