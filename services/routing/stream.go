package routing

import (
	"io"

	"github.com/upb/llm-gateway/services/providers"
)

// bufferedStream replays an eagerly pulled first chunk before delegating to
// the underlying provider stream.
type bufferedStream struct {
	first *providers.StreamChunk
	inner providers.ChunkStream
	done  bool
}

// bufferFirst pulls one chunk from the stream. A clean EOF before any chunk
// is treated as an empty but successful stream. Any other error closes the
// stream and reports it so the router can fail over.
func bufferFirst(stream providers.ChunkStream) (providers.ChunkStream, error) {
	chunk, err := stream.Recv()
	if err == io.EOF {
		return &bufferedStream{inner: stream, done: true}, nil
	}
	if err != nil {
		_ = stream.Close()
		return nil, err
	}
	return &bufferedStream{first: chunk, inner: stream}, nil
}

func (b *bufferedStream) Recv() (*providers.StreamChunk, error) {
	if b.first != nil {
		chunk := b.first
		b.first = nil
		return chunk, nil
	}
	if b.done {
		return nil, io.EOF
	}
	chunk, err := b.inner.Recv()
	if err != nil {
		b.done = true
	}
	return chunk, err
}

func (b *bufferedStream) Close() error {
	return b.inner.Close()
}
