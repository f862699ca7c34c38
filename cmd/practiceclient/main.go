// Command practiceclient plays the browser's part in one practice round:
// it signs in, asks for a sentence, streams a recording as the microphone
// and prints what the tutor heard and said back.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/internal/audio"
)

// 100 ms of 16 kHz audio per frame, the size a browser worklet batches
const frameSamples = 1600

// gorilla connections allow one concurrent writer
var writeMu sync.Mutex

func write(c *websocket.Conn, messageType int, data []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	return c.WriteMessage(messageType, data)
}

type readerAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ReaderID  string    `json:"reader_id"`
}

type serverMessage struct {
	Type       string `json:"type"`
	State      string `json:"state"`
	Text       string `json:"text"`
	SampleRate int    `json:"sample_rate"`
	Bytes      int    `json:"bytes"`
	Sticker    string `json:"sticker"`
	Collected  int    `json:"collected"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

func main() {
	server := flag.String("server", "localhost:8080", "server host:port")
	code := flag.String("code", os.Getenv("ACCESS_CODE"), "reader access code")
	audioPath := flag.String("audio", "sample_audio.pcm", "raw 16 kHz mono PCM16 recording to read")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	recording, err := os.ReadFile(*audioPath)
	if err != nil {
		logger.Fatal("Failed to read recording", zap.String("path", *audioPath), zap.Error(err))
	}
	samples, err := audio.DecodePCM16(recording[:len(recording)&^1])
	if err != nil {
		logger.Fatal("Invalid recording", zap.Error(err))
	}

	token, readerID, err := authenticate(*server, *code)
	if err != nil {
		logger.Fatal("Failed to authenticate reader", zap.Error(err))
	}
	logger.Info("Authenticated", zap.String("readerID", readerID))

	u := url.URL{Scheme: "ws", Host: *server, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer c.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go run(c, samples, logger, done)

	select {
	case <-done:
	case <-interrupt:
		logger.Info("interrupt")
	}

	err = write(c, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		logger.Warn("write close", zap.Error(err))
	}
}

func authenticate(server, code string) (string, string, error) {
	jsonData, err := json.Marshal(map[string]string{"access_code": code})
	if err != nil {
		return "", "", err
	}

	resp, err := http.Post("http://"+server+"/api/v1/reader/auth", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("authentication failed: %s", string(body))
	}

	var authResp readerAuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return "", "", err
	}
	return authResp.Token, authResp.ReaderID, nil
}

// run drives one round: new text, read it, wait for feedback
func run(c *websocket.Conn, samples []float32, logger *zap.Logger, done chan struct{}) {
	defer close(done)

	send := func(msgType string) {
		payload, _ := json.Marshal(map[string]string{"type": msgType})
		if err := write(c, websocket.TextMessage, payload); err != nil {
			logger.Error("write", zap.String("type", msgType), zap.Error(err))
		}
	}

	send("new_text")
	audioBytes := 0

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			logger.Info("connection closed", zap.Error(err))
			return
		}
		if messageType == websocket.BinaryMessage {
			audioBytes += len(data)
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("undecodable message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "state":
			logger.Info("state", zap.String("state", msg.State))
			if msg.State == "FEEDBACK" {
				return
			}
		case "reading_text":
			fmt.Printf("Read this: %s\n", msg.Text)
			send("start_reading")
		case "microphone_request":
			send("microphone_granted")
			go stream(c, samples, logger, func() { send("stop_reading") })
		case "transcription":
			fmt.Printf("Heard: %s\n", msg.Text)
		case "feedback":
			fmt.Printf("Tutor: %s\n", msg.Text)
		case "reward":
			fmt.Printf("Sticker: %s (%d collected)\n", msg.Sticker, msg.Collected)
		case "speaking_start":
			audioBytes = 0
		case "speaking_end":
			logger.Info("tutor audio received",
				zap.Int("bytes", audioBytes),
				zap.Int("reported", msg.Bytes))
		case "error":
			logger.Warn("server refused", zap.String("code", msg.Code), zap.String("message", msg.Message))
		}
	}
}

// stream sends the recording in real time as float32 frames
func stream(c *websocket.Conn, samples []float32, logger *zap.Logger, finished func()) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for start := 0; start < len(samples); start += frameSamples {
		end := min(start+frameSamples, len(samples))
		if err := write(c, websocket.BinaryMessage, audio.EncodeFloat32(samples[start:end])); err != nil {
			logger.Error("Failed to send frame", zap.Error(err))
			return
		}
		<-ticker.C
	}
	logger.Info("Recording sent", zap.Int("samples", len(samples)))
	finished()
}
