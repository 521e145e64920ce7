package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ComfyUIClient runs a saved workflow on a ComfyUI server. Progress is
// tracked over the server's websocket; the result is fetched over HTTP.
type ComfyUIClient struct {
	baseURL    string
	workflow   []byte
	promptNode string
	timeout    time.Duration
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *logrus.Logger
}

// LoadComfyUIClient reads the workflow template (API format) from disk.
func LoadComfyUIClient(baseURL, workflowPath, promptNode string, timeout time.Duration, logger *logrus.Logger) (*ComfyUIClient, error) {
	workflow, err := os.ReadFile(workflowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", workflowPath, err)
	}
	return NewComfyUIClient(baseURL, workflow, promptNode, timeout, logger)
}

func NewComfyUIClient(baseURL string, workflow []byte, promptNode string, timeout time.Duration, logger *logrus.Logger) (*ComfyUIClient, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(workflow, &probe); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	if _, ok := probe[promptNode]; !ok {
		return nil, fmt.Errorf("workflow has no node %q", promptNode)
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	return &ComfyUIClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		workflow:   workflow,
		promptNode: promptNode,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}, nil
}

type comfyWSMessage struct {
	Type string `json:"type"`
	Data struct {
		Node     *string `json:"node"`
		PromptID string  `json:"prompt_id"`
		Message  string  `json:"exception_message"`
	} `json:"data"`
}

type comfyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// GenerateImage implements ImageGenerator.
func (c *ComfyUIClient) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	workflow, err := c.render(prompt)
	if err != nil {
		return nil, err
	}

	clientID := uuid.NewString()
	conn, err := c.connect(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// unblock ReadMessage when ctx ends
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	promptID, err := c.queue(ctx, workflow, clientID)
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"prompt_id": promptID,
		"client_id": clientID,
	}).Debug("ComfyUI prompt queued")

	if err := c.waitDone(ctx, conn, promptID); err != nil {
		return nil, err
	}

	img, err := c.firstOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, img)
}

// render substitutes the prompt into the configured node's text input.
func (c *ComfyUIClient) render(prompt string) (map[string]interface{}, error) {
	var workflow map[string]interface{}
	if err := json.Unmarshal(c.workflow, &workflow); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	node, ok := workflow[c.promptNode].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("workflow node %q is not an object", c.promptNode)
	}
	inputs, ok := node["inputs"].(map[string]interface{})
	if !ok {
		inputs = map[string]interface{}{}
		node["inputs"] = inputs
	}
	inputs["text"] = prompt
	return workflow, nil
}

func (c *ComfyUIClient) connect(ctx context.Context, clientID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid comfyui url: %w", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {clientID}}.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to comfyui websocket: %w", err)
	}
	return conn, nil
}

func (c *ComfyUIClient) queue(ctx context.Context, workflow map[string]interface{}, clientID string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt":    workflow,
		"client_id": clientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to queue prompt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(KindComfyUI, resp)
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse queue response: %w", err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("comfyui returned no prompt_id")
	}
	return result.PromptID, nil
}

// waitDone reads websocket events until the server reports our prompt has
// no node left to execute. Binary frames are previews and are skipped.
func (c *ComfyUIClient) waitDone(ctx context.Context, conn *websocket.Conn, promptID string) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("comfyui websocket: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg comfyWSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Data.PromptID != promptID {
			continue
		}

		switch msg.Type {
		case "executing":
			if msg.Data.Node == nil {
				return nil
			}
		case "execution_error":
			return permanent(fmt.Errorf("comfyui execution failed: %s", msg.Data.Message))
		}
	}
}

func (c *ComfyUIClient) firstOutput(ctx context.Context, promptID string) (*comfyImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(KindComfyUI, resp)
	}

	var history map[string]struct {
		Outputs map[string]struct {
			Images []comfyImage `json:"images"`
		} `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}

	for _, output := range history[promptID].Outputs {
		if len(output.Images) > 0 {
			img := output.Images[0]
			return &img, nil
		}
	}
	return nil, ErrEmptyResponse
}

func (c *ComfyUIClient) download(ctx context.Context, img *comfyImage) (*Image, error) {
	query := url.Values{
		"filename":  {img.Filename},
		"subfolder": {img.Subfolder},
		"type":      {img.Type},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(KindComfyUI, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &Image{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}
