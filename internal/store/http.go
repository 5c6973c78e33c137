package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

var _ ContentStore = (*HTTP)(nil)

// HTTP is a ContentStore client for a Kubo-compatible RPC endpoint
// (e.g. http://127.0.0.1:5001). The same endpoint is handed to the executor
// and prober so all parties see the same DAG.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP returns a client for endpoint. A nil client uses http.DefaultClient;
// deadlines come from the caller's context.
func NewHTTP(endpoint string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

// Endpoint returns the RPC base URL.
func (h *HTTP) Endpoint() string { return h.endpoint }

type cidLink struct {
	Target string `json:"/"`
}

type rpcError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

func (h *HTTP) Put(ctx context.Context, node *Node) (types.ContentID, error) {
	if err := node.validate(); err != nil {
		return "", err
	}
	doc := make(map[string]interface{}, len(node.Links)+len(node.Fields))
	for _, l := range node.Links {
		doc[l.Name] = cidLink{Target: l.CID.String()}
	}
	for k, v := range node.Fields {
		doc[k] = v
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode node: %w", err)
	}

	args := url.Values{}
	args.Set("store-codec", "dag-cbor")
	args.Set("input-codec", "dag-json")
	args.Set("pin", "true")
	var resp struct {
		Cid cidLink `json:"Cid"`
	}
	if err := h.upload(ctx, "dag/put", args, payload, &resp); err != nil {
		return "", err
	}
	return types.ParseContentID(resp.Cid.Target)
}

func (h *HTTP) Get(ctx context.Context, id types.ContentID) (*Node, error) {
	args := url.Values{}
	args.Set("arg", id.String())
	args.Set("output-codec", "dag-json")
	body, err := h.call(ctx, "dag/get", args, nil, "")
	if err != nil {
		return nil, err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s is not a dag node: %v", types.ErrNotFound, id, err)
	}
	n := NewNode()
	for k, raw := range doc {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			n.SetField(k, s)
			continue
		}
		var l cidLink
		if err := json.Unmarshal(raw, &l); err == nil && l.Target != "" {
			n.AddLink(k, types.ContentID(l.Target))
			continue
		}
		return nil, fmt.Errorf("%w: %s: unsupported entry %q", types.ErrStore, id, k)
	}
	sortLinks(n.Links)
	return n, nil
}

func (h *HTTP) Resolve(ctx context.Context, id types.ContentID, path string) (types.ContentID, error) {
	args := url.Values{}
	args.Set("arg", id.Join(path))
	body, err := h.call(ctx, "dag/resolve", args, nil, "")
	if err != nil {
		return "", err
	}
	var resp struct {
		Cid     cidLink `json:"Cid"`
		RemPath string  `json:"RemPath"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode resolve response: %v", types.ErrStore, err)
	}
	if resp.RemPath != "" {
		return "", fmt.Errorf("%w: %s: unresolved remainder %q", types.ErrNotFound, id.Join(path), resp.RemPath)
	}
	return types.ParseContentID(resp.Cid.Target)
}

func (h *HTTP) PutFile(ctx context.Context, data []byte) (types.ContentID, error) {
	args := url.Values{}
	args.Set("cid-version", "1")
	args.Set("raw-leaves", "true")
	args.Set("pin", "true")
	var resp struct {
		Hash string `json:"Hash"`
	}
	if err := h.upload(ctx, "add", args, data, &resp); err != nil {
		return "", err
	}
	return types.ParseContentID(resp.Hash)
}

func (h *HTTP) GetFile(ctx context.Context, id types.ContentID) ([]byte, error) {
	args := url.Values{}
	args.Set("arg", id.String())
	return h.call(ctx, "cat", args, nil, "")
}

func (h *HTTP) upload(ctx context.Context, cmd string, args url.Values, payload []byte, out interface{}) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "data")
	if err != nil {
		return fmt.Errorf("%w: build form: %v", types.ErrStore, err)
	}
	if _, err := part.Write(payload); err != nil {
		return fmt.Errorf("%w: build form: %v", types.ErrStore, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("%w: build form: %v", types.ErrStore, err)
	}

	body, err := h.call(ctx, cmd, args, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", types.ErrStore, cmd, err)
	}
	return nil
}

func (h *HTTP) call(ctx context.Context, cmd string, args url.Values, body io.Reader, contentType string) ([]byte, error) {
	u := fmt.Sprintf("%s/api/v0/%s?%s", h.endpoint, cmd, args.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrStore, cmd, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrStore, cmd, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", types.ErrStore, cmd, err)
	}
	if resp.StatusCode == http.StatusOK {
		return data, nil
	}

	var rerr rpcError
	_ = json.Unmarshal(data, &rerr)
	msg := rerr.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if isNotFoundMessage(msg) {
		return nil, fmt.Errorf("%w: %s %s: %s", types.ErrNotFound, cmd, args.Get("arg"), msg)
	}
	return nil, fmt.Errorf("%w: %s: status %d: %s", types.ErrStore, cmd, resp.StatusCode, msg)
}

func isNotFoundMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no link named")
}
