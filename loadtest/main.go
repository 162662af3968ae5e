package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 200 // pairs of users; start small
	MsgCount  = 20  // messages per user
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	Username string `json:"username"`
}

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type response struct {
	Event      string          `json:"event"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
}

func main() {
	log.Printf("starting load test: %d users, %d messages each", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("load test complete")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	tokenA := authenticate(userA, pass)
	tokenB := authenticate(userB, pass)
	if tokenA == "" || tokenB == "" {
		return
	}

	connA := dial(tokenA, userA)
	connB := dial(tokenB, userB)
	if connA == nil || connB == nil {
		return
	}
	defer connA.Close()
	defer connB.Close()

	// A opens the chat with the first message and reads the ack for the id.
	chatID := createChat(connA, userA, userB)
	if chatID == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, connA, chatID, userA)
	go spamChat(&wsWg, connB, chatID, userB)
	wsWg.Wait()
}

// authenticate registers (ignoring the already-exists error) and logs in.
func authenticate(username, password string) string {
	postJSON("/register", map[string]string{
		"username": username,
		"email":    username + "@loadtest.local",
		"password": password,
	})

	resp, err := postJSON("/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		log.Printf("login failed [%s]: %v", username, err)
		return ""
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token
}

func dial(token, username string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", WSURL, token), nil)
	if err != nil {
		log.Printf("ws connect failed [%s]: %v", username, err)
		return nil
	}
	return conn
}

func send(conn *websocket.Conn, event string, payload any) error {
	raw, _ := json.Marshal(payload)
	return conn.WriteJSON(frame{Event: event, Payload: raw})
}

// createChat sends create_chat and waits for its ack to learn the chat id.
func createChat(conn *websocket.Conn, self, other string) string {
	err := send(conn, "create_chat", map[string]any{
		"user_2": other,
		"message": map[string]string{
			"text": "load test opener",
			"when": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		log.Printf("create_chat send failed [%s]: %v", self, err)
		return ""
	}

	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			log.Printf("create_chat ack failed [%s]: %v", self, err)
			return ""
		}
		if resp.Event != "create_chat" {
			continue // broadcast noise
		}
		if resp.StatusCode != http.StatusCreated {
			log.Printf("create_chat rejected [%s]: %d", self, resp.StatusCode)
			return ""
		}
		var chat struct {
			ID string `json:"id"`
		}
		json.Unmarshal(resp.Data, &chat)
		return chat.ID
	}
}

func spamChat(wg *sync.WaitGroup, conn *websocket.Conn, chatID, username string) {
	defer wg.Done()

	// Drain inbound broadcasts so the server never blocks on us.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		err := send(conn, "new_message", map[string]any{
			"id":   chatID,
			"type": "chat",
			"message": map[string]string{
				"text": fmt.Sprintf("load test msg %d from %s", i, username),
				"when": time.Now().UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			log.Printf("send failed [%s]: %v", username, err)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("%s finished sending %d msgs", username, MsgCount)
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
