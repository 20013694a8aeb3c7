package chat

import (
	"context"
	"time"
	"unicode/utf8"
)

// Frame is one step of a reply reveal. Text is the prefix of the reply shown
// so far; the last frame has Done set, and carries Err when the send failed.
type Frame struct {
	Text string
	Done bool
	Err  error
}

// RevealOptions controls the pace of the reveal
type RevealOptions struct {
	ChunkSize int           // runes added per frame
	Interval  time.Duration // delay between frames, negative for none
}

// DefaultRevealOptions returns the default reveal pace
func DefaultRevealOptions() RevealOptions {
	return RevealOptions{ChunkSize: 3, Interval: 5 * time.Millisecond}
}

func (o RevealOptions) withDefaults() RevealOptions {
	def := DefaultRevealOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.Interval == 0 {
		o.Interval = def.Interval
	}
	return o
}

// Prefixes splits text into the successive prefixes a reveal emits. Each
// prefix is a byte prefix of text cut on a rune boundary, so invalid UTF-8
// passes through unchanged. The last prefix is always the full text; an empty
// text yields a single empty prefix.
func Prefixes(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultRevealOptions().ChunkSize
	}
	if text == "" {
		return []string{""}
	}

	prefixes := make([]string, 0, (utf8.RuneCountInString(text)+chunkSize-1)/chunkSize)
	offset := 0
	for {
		for n := 0; n < chunkSize && offset < len(text); n++ {
			_, size := utf8.DecodeRuneInString(text[offset:])
			offset += size
		}
		prefixes = append(prefixes, text[:offset])
		if offset == len(text) {
			return prefixes
		}
	}
}

// reveal emits the prefixes of text to out at the configured pace. It
// returns false if ctx was cancelled before the final frame was delivered.
func reveal(ctx context.Context, text string, opts RevealOptions, out chan<- Frame) bool {
	prefixes := Prefixes(text, opts.ChunkSize)

	var ticker *time.Ticker
	if opts.Interval > 0 {
		ticker = time.NewTicker(opts.Interval)
		defer ticker.Stop()
	}

	for i, prefix := range prefixes {
		if i > 0 && ticker != nil {
			select {
			case <-ctx.Done():
				return false
			case <-ticker.C:
			}
		}
		frame := Frame{Text: prefix, Done: i == len(prefixes)-1}
		select {
		case <-ctx.Done():
			return false
		case out <- frame:
		}
	}
	return true
}
