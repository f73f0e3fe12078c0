package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/goodtune/kblock/internal/engine"
)

// Engine is the part of the engine the channel talks to.
type Engine interface {
	Submit(ctx context.Context, cmd engine.Command) (engine.Response, error)
	Notices() <-chan engine.Notice
}

// Serve answers commands read from conn and forwards engine notices until
// the browser closes the channel (nil), ctx ends, or the channel breaks.
func Serve(ctx context.Context, eng Engine, conn *Conn, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "messaging").Logger()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go forwardNotices(ctx, eng.Notices(), conn, logger)

	for {
		payload, err := conn.ReadFrame()
		switch {
		case errors.Is(err, io.EOF):
			logger.Info().Msg("Browser closed the channel")
			return nil
		case errors.Is(err, ErrTooLarge):
			logger.Warn().Err(err).Msg("Rejected oversized message")
			if err := conn.Write(engine.Response{Type: "error", Code: engine.CodeInvalid, Error: err.Error()}); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		var cmd engine.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			logger.Warn().Err(err).Msg("Malformed command")
			if err := conn.Write(engine.Response{Type: "error", Code: engine.CodeInvalid, Error: err.Error()}); err != nil {
				return err
			}
			continue
		}

		resp, err := eng.Submit(ctx, cmd)
		if err != nil {
			return err
		}
		logger.Debug().Str("type", cmd.Type).Bool("ok", resp.OK).Msg("Command handled")

		if err := conn.Write(resp); errors.Is(err, ErrTooLarge) {
			logger.Error().Err(err).Str("type", cmd.Type).Msg("Response too large")
			err = conn.Write(engine.Response{ID: resp.ID, Type: resp.Type, Code: engine.CodeInternal, Error: err.Error()})
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}
}

func forwardNotices(ctx context.Context, notices <-chan engine.Notice, conn *Conn, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if err := conn.Write(n); err != nil {
				logger.Warn().Err(err).Str("event", n.Event).Msg("Failed to forward notice")
			}
		}
	}
}
