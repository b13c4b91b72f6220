// Package mock provides a test double for the stt.Provider interface.
//
// Set Result / Err to control what Transcribe returns, or TranscribeFunc for
// per-call behaviour. Every call is recorded.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hello"}}
//	t, _ := p.Transcribe(ctx, stt.Request{Audio: blob})
//	_ = p.Calls()[0].Req.Language
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe when
	// TranscribeFunc is nil.
	Err error

	// TranscribeFunc, when set, handles every call.
	TranscribeFunc func(ctx context.Context, req stt.Request) (stt.Transcript, error)

	calls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	p.calls = append(p.calls, TranscribeCall{Ctx: ctx, Req: req})
	fn, res, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// Calls returns a copy of every recorded call.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.calls...)
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
