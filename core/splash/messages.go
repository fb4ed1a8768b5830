package splash

import (
	"encoding/json"
	"errors"
	"time"

	"KaraFM/model"
)

// MessageType identifies a wire message on the splash channel.
type MessageType string

const (
	// Server -> client pushes.
	MsgNowPlaying   MessageType = "now_playing"
	MsgPlay         MessageType = "play"
	MsgPause        MessageType = "pause"
	MsgSkip         MessageType = "skip"
	MsgRestart      MessageType = "restart"
	MsgVolume       MessageType = "volume"
	MsgNotification MessageType = "notification"

	// Client -> server reports.
	MsgStartSong         MessageType = "start_song"
	MsgEndSong           MessageType = "end_song"
	MsgClearNotification MessageType = "clear_notification"
)

// WireMessage is the envelope for every splash channel message.
type WireMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SkipData carries the reason a song was skipped.
type SkipData struct {
	Reason model.EndReason `json:"reason"`
}

// VolumeData carries an absolute volume push.
type VolumeData struct {
	Value float64 `json:"value"`
}

// EndSongData is the client report that playback ended.
type EndSongData struct {
	Reason model.EndReason `json:"reason"`
}

func decodeData(msg *WireMessage, v interface{}) error {
	if len(msg.Data) == 0 {
		return errors.New("missing message data")
	}
	return json.Unmarshal(msg.Data, v)
}

func encode(msgType MessageType, data interface{}) ([]byte, error) {
	msg := WireMessage{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}
