package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const DefaultWebhookTimeout = 10 * time.Second

var _ voting.Dispatcher = (*Webhook)(nil)

// Webhook delivers calls as JSON POST requests. 404, 405 and 501 responses
// mean the endpoint cannot serve the call; other non-2xx responses are
// failures that may be retried.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return &Webhook{url: url, client: client}
}

type webhookRequest struct {
	Instance uint64         `json:"instance"`
	Caller   common.Address `json:"caller"`
	Target   common.Address `json:"target"`
	Payload  hexutil.Bytes  `json:"payload"`
}

type webhookResponse struct {
	Return hexutil.Bytes `json:"return"`
}

func (w *Webhook) Dispatch(ctx context.Context, call voting.Call) ([]byte, error) {
	body, err := json.Marshal(webhookRequest{
		Instance: call.Instance,
		Caller:   call.Caller,
		Target:   call.Target,
		Payload:  call.Payload,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusNotImplemented:
		return nil, fmt.Errorf("%w: %s answered %s", voting.ErrUnsupportedCall, w.url, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%s answered %s", w.url, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out webhookResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", w.url, err)
	}
	return out.Return, nil
}
