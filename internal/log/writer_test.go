package log_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/photoncontrols/skywalker/internal/log"
)

func writerLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{}
	return slog.New(h), h
}

func messages(h *recordingHandler) []string {
	var msgs []string
	for _, r := range h.records {
		msgs = append(msgs, r.Message)
	}
	return msgs
}

func TestNewWriter_SingleLine(t *testing.T) {
	logger, h := writerLogger()
	w := log.NewWriter(context.Background(), logger, slog.LevelInfo)

	want := "walk 1: y1 650.2 -> 648.0"
	if _, err := io.Copy(w, bytes.NewBufferString(want)); err != nil {
		t.Fatalf("Write() = %v; want no error", err)
	}
	w.Close()

	if got := len(h.records); got != 1 {
		t.Fatalf("got %d records; want 1", got)
	}
	if got := h.records[0].Message; got != want {
		t.Errorf("message = %q; want %q", got, want)
	}
}

func TestNewWriter_MultiLine(t *testing.T) {
	logger, h := writerLogger()
	w := log.NewWriter(context.Background(), logger, slog.LevelInfo)

	want := []string{"walk 1", "walk 2", "walk 3"}
	if _, err := io.Copy(w, bytes.NewBufferString(strings.Join(want, "\n"))); err != nil {
		t.Fatalf("Write() = %v; want no error", err)
	}
	w.Close()

	if got := messages(h); !slices.Equal(got, want) {
		t.Errorf("messages = %v; want %v", got, want)
	}
}

func TestNewWriter_EmptyLinesSwallowed(t *testing.T) {
	logger, h := writerLogger()
	w := log.NewWriter(context.Background(), logger, slog.LevelInfo)

	if _, err := io.Copy(w, bytes.NewBufferString("one\n\n  \ntwo\n")); err != nil {
		t.Fatalf("Write() = %v; want no error", err)
	}
	w.Close()

	want := []string{"one", "two"}
	if got := messages(h); !slices.Equal(got, want) {
		t.Errorf("messages = %v; want %v", got, want)
	}
}

func TestNewWriter_TrailingSpaceTrimmed(t *testing.T) {
	logger, h := writerLogger()
	w := log.NewWriter(context.Background(), logger, slog.LevelInfo)

	if _, err := io.Copy(w, bytes.NewBufferString("converged  \t\n")); err != nil {
		t.Fatalf("Write() = %v; want no error", err)
	}
	w.Close()

	if got := h.records[0].Message; got != "converged" {
		t.Errorf("message = %q; want %q", got, "converged")
	}
}
