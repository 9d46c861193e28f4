package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	hunyuan "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/hunyuan/v20230901"
)

const hunyuanEndpoint = "hunyuan.tencentcloudapi.com"

// HunyuanResponder answers chat messages through the Tencent Cloud SDK.
type HunyuanResponder struct {
	client *hunyuan.Client
	model  string
}

func NewHunyuanResponder(secretID, secretKey, model string) (*HunyuanResponder, error) {
	if secretID == "" || secretKey == "" {
		return nil, errors.New("hunyuan: TENCENTCLOUD_SECRETID and TENCENTCLOUD_SECRETKEY are required")
	}
	credential := common.NewCredential(secretID, secretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = hunyuanEndpoint
	client, err := hunyuan.NewClient(credential, "", cpf)
	if err != nil {
		return nil, fmt.Errorf("hunyuan: new client: %w", err)
	}
	if model == "" {
		model = "hunyuan-turbos-latest"
	}
	return &HunyuanResponder{client: client, model: model}, nil
}

// hunyuanMessages builds the request transcript: system prompt, the last
// historyWindow turns, then the new message.
func hunyuanMessages(req ChatRequest) []*hunyuan.Message {
	msgs := []*hunyuan.Message{{
		Role:    common.StringPtr("system"),
		Content: common.StringPtr(systemPrompt(req.ConciseMode)),
	}}

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		role := "user"
		if m.FromAI() {
			role = "assistant"
		}
		msgs = append(msgs, &hunyuan.Message{Role: common.StringPtr(role), Content: common.StringPtr(m.Content)})
	}
	return append(msgs, &hunyuan.Message{Role: common.StringPtr("user"), Content: common.StringPtr(req.Message)})
}

func (r *HunyuanResponder) Respond(ctx context.Context, req ChatRequest) (string, error) {
	creq := hunyuan.NewChatCompletionsRequest()
	creq.Model = common.StringPtr(r.model)
	creq.Messages = hunyuanMessages(req)
	creq.Stream = common.BoolPtr(false)

	resp, err := r.client.ChatCompletionsWithContext(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("hunyuan: chat completions: %w", err)
	}
	if resp == nil || resp.Response == nil {
		return "", errors.New("hunyuan: empty response")
	}
	for _, choice := range resp.Response.Choices {
		if choice.Message != nil && choice.Message.Content != nil {
			if text := strings.TrimSpace(*choice.Message.Content); text != "" {
				return text, nil
			}
		}
	}
	return "", errors.New("hunyuan: no content in choices")
}
