package aiprovider

import "context"

// Stub is an in-memory Facade for tests: it returns a fixed or
// computed response without making any network call, matching the
// spec's requirement that agents be unit-testable "with a stub
// collaborator" (§4.1).
type Stub struct {
	Response CallResult
	Err      error
	Calls    []Message
}

func (s *Stub) Call(ctx context.Context, messages []Message, opts CallOptions) (CallResult, error) {
	s.Calls = append(s.Calls, messages...)
	if s.Err != nil {
		return CallResult{}, s.Err
	}
	return s.Response, nil
}

func (s *Stub) Stream(ctx context.Context, messages []Message, opts CallOptions, onChunk func(StreamChunk)) (CallResult, error) {
	s.Calls = append(s.Calls, messages...)
	if s.Err != nil {
		return CallResult{}, s.Err
	}
	if onChunk != nil {
		onChunk(StreamChunk{Delta: s.Response.Content})
		onChunk(StreamChunk{Done: true})
	}
	return s.Response, nil
}
