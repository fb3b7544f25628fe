// Package elevenlabs streams text-to-speech audio over the ElevenLabs
// stream-input websocket.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/narration"
)

const (
	DefaultBaseURL      = "wss://api.elevenlabs.io"
	DefaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID      = "eleven_turbo_v2_5"
	DefaultOutputFormat = "mp3_44100_192"
)

type Config struct {
	BaseURL         string
	APIKey          string
	VoiceID         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	SpeakingRate    float64
	DialTimeout     time.Duration
}

// Client implements narration.Synthesizer. Each Stream call opens its own
// websocket so an interrupted utterance can be torn down by closing it.
type Client struct {
	config Config
	dialer *websocket.Dialer
}

func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.VoiceID == "" {
		config.VoiceID = DefaultVoiceID
	}
	if config.ModelID == "" {
		config.ModelID = DefaultModelID
	}
	if config.OutputFormat == "" {
		config.OutputFormat = DefaultOutputFormat
	}
	if config.SpeakingRate == 0 {
		config.SpeakingRate = 1.0
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	return &Client{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: config.DialTimeout},
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type generationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

type modelConfig struct {
	SpeakingRate float64 `json:"speaking_rate"`
}

type initMessage struct {
	Text             string           `json:"text"`
	APIKey           string           `json:"xi_api_key"`
	VoiceSettings    voiceSettings    `json:"voice_settings"`
	GenerationConfig generationConfig `json:"generation_config"`
	ModelConfig      modelConfig      `json:"model_config"`
}

type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
	Flush                bool   `json:"flush,omitempty"`
}

type audioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) streamURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(c.config.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	base.Path += "/v1/text-to-speech/" + url.PathEscape(c.config.VoiceID) + "/stream-input"
	q := url.Values{}
	q.Set("model_id", c.config.ModelID)
	q.Set("output_format", c.config.OutputFormat)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Stream opens a synthesis connection, sends text and returns the audio
// stream. Cancelling ctx closes the connection.
func (c *Client) Stream(ctx context.Context, text string) (narration.AudioStream, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("elevenlabs API key not configured")
	}

	u, err := c.streamURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to TTS: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to TTS: %w", err)
	}

	open := initMessage{
		Text:   " ",
		APIKey: c.config.APIKey,
		VoiceSettings: voiceSettings{
			Stability:       c.config.Stability,
			SimilarityBoost: c.config.SimilarityBoost,
			Style:           c.config.Style,
			UseSpeakerBoost: true,
		},
		GenerationConfig: generationConfig{ChunkLengthSchedule: []int{120, 160, 250, 290}},
		ModelConfig:      modelConfig{SpeakingRate: c.config.SpeakingRate},
	}

	for _, msg := range []any{
		open,
		textMessage{Text: text + " ", TryTriggerGeneration: true},
		textMessage{Text: ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to send TTS request: %w", err)
		}
	}

	s := &stream{conn: conn}
	s.stopWatch = context.AfterFunc(ctx, func() { _ = conn.Close() })
	logger.Debug("TTS stream opened (voice=%s, model=%s, %d chars)", c.config.VoiceID, c.config.ModelID, len(text))
	return s, nil
}

type stream struct {
	conn      *websocket.Conn
	stopWatch func() bool
	closeOnce sync.Once
	closeErr  error
	done      bool
}

// Next returns the next decoded audio chunk, or io.EOF once the server
// marks the response final.
func (s *stream) Next() ([]byte, error) {
	for {
		if s.done {
			return nil, io.EOF
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, io.EOF
			}
			return nil, err
		}

		var msg audioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}
		if msg.Error != "" {
			return nil, fmt.Errorf("TTS error: %s: %s", msg.Error, msg.Message)
		}

		s.done = msg.IsFinal
		if msg.Audio == "" {
			continue
		}

		chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio chunk: %w", err)
		}
		return chunk, nil
	}
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		if s.stopWatch != nil {
			s.stopWatch()
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
