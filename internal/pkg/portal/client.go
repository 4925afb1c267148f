package portal

import (
	"Courier/internal/api/dto"
	"Courier/internal/model"
	"Courier/internal/pkg/consts"
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ErrUnauthorized 后端拒绝凭据
var ErrUnauthorized = errors.New("portal: unauthorized")

// StatusError 非 2xx 响应
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal: unexpected status %d: %s", e.Code, e.Body)
}

// TokenSource 每次请求读取最新凭据
type TokenSource func() string

// Client 后端 REST 客户端
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration, token TokenSource) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	c.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if token != nil {
			if t := token(); t != "" {
				r.SetAuthToken(t)
			}
		}
		return nil
	})

	return &Client{http: c}
}

// ListPeers 拉取通讯录：学生看到教授，教授看到学生
func (s *Client) ListPeers(ctx context.Context, self model.Role) ([]dto.PeerDTO, error) {
	path := consts.PathProfessors
	if self == model.RoleProfessor {
		path = consts.PathStudents
	}
	var out []dto.PeerDTO
	if err := s.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListConversations 拉取会话快照
func (s *Client) ListConversations(ctx context.Context) ([]dto.ConversationDTO, error) {
	var out []dto.ConversationDTO
	if err := s.get(ctx, consts.PathConversations, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages 拉取会话历史，服务端同时将其标记为已读
func (s *Client) ListMessages(ctx context.Context, conversationID string) ([]dto.MessageDTO, error) {
	var out []dto.MessageDTO
	params := map[string]string{"id": conversationID}
	if err := s.get(ctx, consts.PathConversationMsgs, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage 发送消息，服务端按需创建会话
func (s *Client) SendMessage(ctx context.Context, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	var out dto.MessageDTO
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(consts.PathMessages)
	if err != nil {
		return nil, errors.Wrap(err, "portal: send message")
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Client) get(ctx context.Context, path string, pathParams map[string]string, out any) error {
	start := time.Now()
	resp, err := s.http.R().
		SetContext(ctx).
		SetPathParams(pathParams).
		SetResult(out).
		Get(path)
	if err != nil {
		return errors.Wrapf(err, "portal: GET %s", path)
	}
	log.DebugContext(ctx, "portal request", "path", resp.Request.URL, "status", resp.StatusCode(), "latency", time.Since(start))
	return checkResponse(resp)
}

func checkResponse(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.IsError():
		return &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 200)}
	}
	return nil
}

// truncate 按字节截断，不拆开多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
