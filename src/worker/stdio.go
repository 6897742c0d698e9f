package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
)

// ServeStdio runs a worker in process mode. Commands arrive as a stream of
// JSON objects on in and driver messages leave as one JSON object per line
// on out. End of input is treated as quit.
func ServeStdio(ctx context.Context, in io.Reader, out io.Writer, opts ...Option) error {
	w := New(lineEmitter(out), opts...)

	commands := make(chan Command)
	go func() {
		defer close(commands)
		decoder := json.NewDecoder(in)
		for {
			var cmd Command
			if err := decoder.Decode(&cmd); err != nil {
				if !errors.Is(err, io.EOF) {
					w.log.Error("could not read command", "error", err)
				}
				return
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()

	return w.Run(ctx, commands)
}

func lineEmitter(out io.Writer) Emitter {
	return func(message []byte) error {
		var line bytes.Buffer
		if err := json.Compact(&line, message); err != nil {
			slog.Error("dropping driver message that is not valid JSON", "error", err, "size", len(message))
			return nil
		}
		line.WriteByte('\n')
		_, err := out.Write(line.Bytes())
		return err
	}
}
