package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	httpProviderName    = "http"
	defaultProviderWait = 30 * time.Second
	maxProviderBody     = 1 << 20
)

// HTTPProvider posts audio to a JSON speech-to-text endpoint. The batch
// endpoint is {url}/batch.
type HTTPProvider struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPProvider(url, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = defaultProviderWait
	}
	return &HTTPProvider{
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (p *HTTPProvider) Name() string {
	return httpProviderName
}

type transcribeRequest struct {
	Audio []byte `json:"audio"`
}

type transcribeBatchRequest struct {
	Audio [][]byte `json:"audio"`
}

type transcribeBatchResponse struct {
	Transcripts []Transcript `json:"transcripts"`
}

func (p *HTTPProvider) Transcribe(ctx context.Context, audio []byte) (Transcript, error) {
	var tr Transcript
	if err := p.post(ctx, p.url, transcribeRequest{Audio: audio}, &tr); err != nil {
		return Transcript{}, err
	}
	return tr, nil
}

func (p *HTTPProvider) TranscribeBatch(ctx context.Context, audio [][]byte) ([]Transcript, error) {
	var res transcribeBatchResponse
	if err := p.post(ctx, p.url+"/batch", transcribeBatchRequest{Audio: audio}, &res); err != nil {
		return nil, err
	}
	return res.Transcripts, nil
}

func (p *HTTPProvider) post(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ProviderError{Provider: httpProviderName, Err: err}
	}

	// The deadline rides on the context so a timed out call surfaces as
	// context.DeadlineExceeded.
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Provider: httpProviderName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &ProviderError{Provider: httpProviderName, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return &ProviderError{Provider: httpProviderName, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(bytes.TrimSpace(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ProviderError{Provider: httpProviderName, Status: resp.StatusCode, Err: errors.New(msg)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProviderError{Provider: httpProviderName, Err: fmt.Errorf("cannot decode response: %w", err)}
	}
	return nil
}
