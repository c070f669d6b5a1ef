// wsclient 命令行联调工具: 连接 /ws, 打印收到的事件, 把标准输入的每一行作为消息发出
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	internalws "campus-chat/internal/websocket"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket endpoint")
	token := flag.String("token", "", "JWT issued by /api/auth/login")
	to := flag.Uint("to", 0, "receiver user id for lines read from stdin")
	messageType := flag.String("type", "text", "message_type for outgoing messages")
	pretty := flag.Bool("pretty", false, "indent received frames")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "-token is required")
		os.Exit(2)
	}

	u, err := url.Parse(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid url: %v\n", err)
		os.Exit(2)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			fmt.Fprintf(os.Stderr, "Handshake failed: %s\n", resp.Status)
		}
		fmt.Fprintf(os.Stderr, "Error connecting: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Connection closed: %v\n", err)
				return
			}
			printFrame(data, *pretty)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			frame, err := parseLine(line, *to, *messageType)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				continue
			}
			if frame == nil {
				continue
			}
			if err := conn.WriteJSON(frame); err != nil {
				fmt.Fprintf(os.Stderr, "Error sending: %v\n", err)
				return
			}
		}
	}
}

// parseLine 以 { 开头的行按原始帧发送, 其它行作为 send_message 的内容
func parseLine(line string, to uint, messageType string) (interface{}, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if strings.HasPrefix(line, "{") {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON frame: %w", err)
		}
		return raw, nil
	}
	if to == 0 {
		return nil, fmt.Errorf("set -to to send plain text lines")
	}
	return internalws.Frame{
		Event: internalws.EventSendMessage,
		Data: map[string]interface{}{
			"receiver_id":  to,
			"content":      line,
			"message_type": messageType,
		},
	}, nil
}

func printFrame(data []byte, pretty bool) {
	if !pretty {
		fmt.Println(string(data))
		return
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
