package stream

import (
	"encoding/base64"
	"strings"
)

const (
	// DefaultTextChunkWords bounds per-chunk overhead for text replies.
	DefaultTextChunkWords = 5
	// DefaultAudioChunkBytes is the raw payload size per audio chunk.
	DefaultAudioChunkBytes = 4096
)

// ChunkText splits a reply into word-grouped text events. Chunk
// indices and the final flag let clients reassemble without guessing.
func ChunkText(text string, wordsPerChunk int) []Event {
	if wordsPerChunk <= 0 {
		wordsPerChunk = DefaultTextChunkWords
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var events []Event
	for i := 0; i < len(words); i += wordsPerChunk {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		events = append(events, Event{
			Type: EventText,
			Data: map[string]any{
				"content": strings.Join(words[i:end], " "),
				"index":   len(events),
				"final":   end == len(words),
			},
		})
	}
	return events
}

// ChunkAudio splits raw audio into base64-encoded events. The last
// chunk carries final: true.
func ChunkAudio(audio []byte, chunkBytes int) []Event {
	if chunkBytes <= 0 {
		chunkBytes = DefaultAudioChunkBytes
	}
	if len(audio) == 0 {
		return nil
	}
	var events []Event
	for i := 0; i < len(audio); i += chunkBytes {
		end := i + chunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		events = append(events, Event{
			Type: EventAudio,
			Data: map[string]any{
				"content": base64.StdEncoding.EncodeToString(audio[i:end]),
				"index":   len(events),
				"final":   end == len(audio),
			},
		})
	}
	return events
}
