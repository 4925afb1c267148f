package ws

import (
	"Courier/internal/api/dto"
	"Courier/internal/model"
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/util"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ErrMalformedFrame 无法解析的推送帧
var ErrMalformedFrame = errors.New("ws: malformed frame")

// ParseFrame 解析一条推送帧
// 非 new_message 类型返回 ok=false 且无错误
func ParseFrame(data []byte) (model.Message, bool, error) {
	var frame dto.PushFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return model.Message{}, false, errors.Wrapf(ErrMalformedFrame, "decode envelope: %v", err)
	}
	if frame.Type != consts.FrameNewMessage {
		return model.Message{}, false, nil
	}
	if len(frame.Data) == 0 {
		return model.Message{}, false, errors.Wrap(ErrMalformedFrame, "missing data")
	}

	var msg dto.MessageDTO
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return model.Message{}, false, errors.Wrapf(ErrMalformedFrame, "decode message: %v", err)
	}
	if err := util.ValidateDTO(&msg); err != nil {
		return model.Message{}, false, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if msg.SentAt.IsZero() {
		return model.Message{}, false, errors.Wrap(ErrMalformedFrame, "missing sent_at")
	}
	return msg.ToModel(), true, nil
}
