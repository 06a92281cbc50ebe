package ingest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"rescuefusion/internal/config"
)

// StartReplay tails JSONL recordings of WiFi messages into the coalescer. Files are
// followed like tail -F: truncation reopens from the start.
func StartReplay(ctx context.Context, cfg *config.Manager, wifi WifiSubmitter, logger *slog.Logger) {
	current := cfg.Get().Ingest.Replay
	if !current.Enabled {
		if logger != nil {
			logger.Info("replay ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("replay ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, wifi, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, wifi WifiSubmitter, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("replay open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var partial []byte
		for {
			chunk, err := reader.ReadBytes('\n')
			if err != nil {
				partial = append(partial, chunk...)
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("replay read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line := append(partial, chunk...)
			partial = nil
			offset += int64(len(line))
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			_ = submitWifi(wifi, line, 0, "replay", logger)
		}
	}
}
